package models

import "time"

// StagedAsset is the bookkeeping record of an uploaded but not yet
// committed binary.
type StagedAsset struct {
	TempKey     string    `json:"temp_key"`
	Locator     string    `json:"locator"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PermanentAsset is a staged binary after promotion to durable storage.
type PermanentAsset struct {
	Locator string `json:"locator"`
	URL     string `json:"url"`
}

// StagedUpload is handed to a client that uploads a binary before importing.
type StagedUpload struct {
	TempKey   string    `json:"temp_key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}
