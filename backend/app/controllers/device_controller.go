package controllers

import (
	"net/http"
	"strings"

	"shaka-fleet/backend/app/dto"
	jwtutil "shaka-fleet/backend/app/jwt"
	"shaka-fleet/backend/app/services"
)

type DeviceController struct {
	Devices *services.DeviceService
	Tokens  *jwtutil.Signer
}

func NewDeviceController(devices *services.DeviceService, tokens *jwtutil.Signer) *DeviceController {
	return &DeviceController{Devices: devices, Tokens: tokens}
}

func (c *DeviceController) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Devices.ListAll())
}

func (c *DeviceController) Get(w http.ResponseWriter, r *http.Request) {
	d, err := c.Devices.Find(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c *DeviceController) Delete(w http.ResponseWriter, r *http.Request) {
	if err := c.Devices.Remove(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IssueToken mints the credential a machine presents in its live auth frame.
// The machine does not need to be registered yet.
func (c *DeviceController) IssueToken(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := services.ValidateDeviceID(id); err != nil {
		writeError(w, err)
		return
	}
	tok, err := c.Tokens.SignDevice(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TokenResponse{AccessToken: tok})
}
