package types

import (
	"encoding/json"
	"regexp"
)

// Compiled once at package initialization; room IDs are validated on every
// join, leave and room message.
var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

// maxContentBytes caps serialized room-message content at 64KB.
const maxContentBytes = 65536

// IsValidRoomID checks that a room ID is 1-128 characters of alphanumerics
// plus underscore, hyphen and colon.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 128 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// ValidateContent checks that message content serializes and stays within
// the size limit. Serialization here duplicates work done at delivery time
// but is the only way to get an accurate byte count.
func ValidateContent(content interface{}) error {
	data, err := json.Marshal(content)
	if err != nil {
		return ErrInvalidContent
	}
	if len(data) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}
