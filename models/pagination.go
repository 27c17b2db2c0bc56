package models

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type PageInfo struct {
	StartCursor string `json:"startCursor"`
	EndCursor   string `json:"endCursor"`
	HasNextPage *bool  `json:"hasNextPage,omitempty"`
}

func DecodeCursor(cursor *string) (string, error) {
	decodedCursor := ""
	if cursor != nil {
		b, err := base64.StdEncoding.DecodeString(*cursor)
		if err != nil {
			return decodedCursor, err
		}
		decodedCursor = string(b)
	}
	return decodedCursor, nil
}

// DecodeCompositeCursor splits a "timestamp|id" cursor. Ids are uuid strings
// so the pair comes back as two strings.
func DecodeCompositeCursor(cursor *string) (string, string) {
	if cursor == nil || *cursor == "" {
		return "", ""
	}

	decoded, err := base64.StdEncoding.DecodeString(*cursor)
	if err != nil {
		return "", ""
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func EncodeCursor(cursor string) string {
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

func EncodeCompositeCursor(timestamp string, id string) string {
	cursor := fmt.Sprintf("%s|%s", timestamp, id)
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}
