// Package catalog stores add-on, version and file metadata and the commit
// pointer recorded for each extracted version.
package catalog

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrInvalidChannel = errors.New("catalog: invalid channel")
	ErrInvalidAddon   = errors.New("catalog: invalid add-on")
)

// AddonType is the kind of add-on.
type AddonType string

// Add-on types.
const (
	AddonTypeExtension   AddonType = "extension"
	AddonTypeTheme       AddonType = "theme"
	AddonTypeStaticTheme AddonType = "statictheme"
	AddonTypeDictionary  AddonType = "dictionary"
	AddonTypeLanguage    AddonType = "langpack"
)

// RequiresExtraction reports whether versions of this type are committed to git.
func (t AddonType) RequiresExtraction() bool {
	return t == AddonTypeExtension
}

// Channel is the distribution channel of a version.
type Channel string

// Channels.
const (
	ChannelListed   Channel = "listed"
	ChannelUnlisted Channel = "unlisted"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelListed, ChannelUnlisted:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
}

// Addon is a submitted add-on.
type Addon struct {
	ID   int64     `json:"id"   yaml:"id"`
	Name string    `json:"name" yaml:"name"`
	Type AddonType `json:"type" yaml:"type"`
}

// User identifies an uploader.
type User struct {
	ID    int64  `json:"id"    yaml:"id"`
	Email string `json:"email" yaml:"email"`
}

// File is the uploaded package of a version.
type File struct {
	ID       int64  `json:"id"       yaml:"id"`
	Filename string `json:"filename" yaml:"filename"`
	// Path is where the package lives on disk.
	Path           string `json:"path"            yaml:"path"`
	IsWebExtension bool   `json:"is_webextension" yaml:"is_webextension"`
}

// Version is one uploaded version of an add-on.
type Version struct {
	ID         int64     `json:"id"                    yaml:"id"`
	AddonID    int64     `json:"addon_id"              yaml:"addon_id"`
	Number     string    `json:"version"               yaml:"version"`
	Channel    Channel   `json:"channel"               yaml:"channel"`
	Deleted    bool      `json:"deleted"               yaml:"deleted"`
	GitHash    string    `json:"git_hash"              yaml:"git_hash"`
	UploadedBy *User     `json:"uploaded_by,omitempty" yaml:"uploaded_by,omitempty"`
	File       File      `json:"file"                  yaml:"file"`
	Created    time.Time `json:"created"               yaml:"created"`
}

// IsExtracted reports whether the version's tree has been committed.
func (v Version) IsExtracted() bool {
	return v.GitHash != ""
}
