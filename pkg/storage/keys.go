package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ImagePrefix is the key prefix shared by every recipe image.
const ImagePrefix = "recipes/"

// NewImageKey returns a fresh, collision-free key for a recipe image,
// bucketed by the month it was written in.
func NewImageKey(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%04d/%02d/%s", ImagePrefix, now.Year(), int(now.Month()), uuid.NewString())
}
