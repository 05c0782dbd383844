package deployment

import (
	"fmt"

	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// SlotName derives the stable container slot name for a project.
// Pattern: berth_{slugified projectID}
//
// Every deployment of a project reuses the same slot, which is what lets
// pre-emption guarantee at most one live container per project.
//
// Example:
//
//	SlotName("p1")        // returns "berth_p1"
//	SlotName("My Shop")   // returns "berth_my-shop"
func SlotName(projectID string) string {
	return fmt.Sprintf("berth_%s", domain.Slugify(projectID))
}

// VolumeName generates a named volume for a deployment slot.
// Pattern: {slot}_{volumeName}
//
// Example:
//
//	VolumeName("berth_p1", "data") // returns "berth_p1_data"
func VolumeName(slot, volumeName string) string {
	return fmt.Sprintf("%s_%s", slot, volumeName)
}
