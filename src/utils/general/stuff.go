package general

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

func GetCurrentFilepath() string {
	_, filename, _, _ := runtime.Caller(1)
	return filepath.Dir(filename)
}

func GetCurrentDir() string {
	return filepath.Dir(GetCurrentFilepath())
}

func GenerateUUID5StringFromByteArray(p []byte) string {
	UUID5Namespace := "6b2f0c1e-6a57-4d59-8e8e-3c9a2f7d41b0"

	namespaceUUID, err := uuid.Parse(UUID5Namespace)
	if err != nil {
		slog.Warn(fmt.Sprintf("Error parsing namespace UUID: %+v", err))
	}
	return uuid.NewSHA1(namespaceUUID, p).String()
}

// IsValidURL checks that rawURL has a scheme and a host.
func IsValidURL(rawURL string) (bool, string) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return false, "URL is empty"
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Sprintf("Invalid URL format: %v", err)
	}
	if parsedURL.Scheme == "" {
		return false, "URL scheme is missing"
	}
	if parsedURL.Host == "" {
		return false, "URL host is missing"
	}

	return true, ""
}
