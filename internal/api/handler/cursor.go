package handler

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cuongbtq/livestream-ai-worker/internal/runstore"
)

func DecodeRunCursor(cursorStr string) (*runstore.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var startedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid startedAt in cursor: %w", err)
	}

	return &runstore.RunCursor{
		StartedAt: startedAt,
		RunID:     decodedParts[1],
	}, nil
}

func EncodeRunCursor(cursor *runstore.RunCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.StartedAt, cursor.RunID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
