package dto

import "shaka-fleet/backend/app/models"

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// DeviceSummary is one row of the admin device listing.
type DeviceSummary struct {
	models.Device
	Online bool `json:"online"`
	Live   bool `json:"live"`
	Stale  bool `json:"stale"`
}
