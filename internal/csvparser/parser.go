package csvparser

import (
	"os"

	"LeadPulse/internal/models"
)

// LoadSubscribers parses the subscriber CSV at path.
func LoadSubscribers(path string) ([]models.Subscriber, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseSubscribers(f)
}
