// Package core provides the execution model types for hap-runner.
package core

// Attachment represents a file produced while running the sequence
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot, combined_log
	ContentType string `json:"contentType"` // MIME type: image/jpeg, text/plain
	Path        string `json:"path"`        // Local file path
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot  = "screenshot"
	AttachmentDeviceLog   = "device_log"
	AttachmentCombinedLog = "combined_log"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewScreenshotAttachment creates a screenshot attachment.
// Device snapshots are JPEG.
func NewScreenshotAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypeJPEG,
		Path:        path,
		Body:        data,
	}
}

// NewDeviceLogAttachment creates an attachment for a log pulled from the device
func NewDeviceLogAttachment(path string) Attachment {
	return Attachment{
		Name:        AttachmentDeviceLog,
		ContentType: ContentTypeText,
		Path:        path,
	}
}

// NewCombinedLogAttachment creates an attachment for the merged log file
func NewCombinedLogAttachment(path string) Attachment {
	return Attachment{
		Name:        AttachmentCombinedLog,
		ContentType: ContentTypeText,
		Path:        path,
	}
}
