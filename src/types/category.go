package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type VehicleExtension struct {
	Make           string `json:"make" validate:"required"`
	Model          string `json:"model" validate:"required"`
	Year           int    `json:"year" validate:"required,gte=1950,lte=2100"`
	MileageLimitKm int    `json:"mileage_limit_km,omitempty" validate:"omitempty,min=0"`
	FuelPolicy     string `json:"fuel_policy,omitempty" validate:"omitempty,oneof=full_to_full same_to_same prepaid"`
}

type EquipmentExtension struct {
	Brand       string   `json:"brand,omitempty"`
	Condition   string   `json:"condition" validate:"required,oneof=new like_new good fair"`
	Accessories []string `json:"accessories,omitempty" validate:"omitempty,dive,required"`
}

type SpaceExtension struct {
	AreaSqm   int      `json:"area_sqm" validate:"required,min=1"`
	Capacity  int      `json:"capacity,omitempty" validate:"omitempty,min=0"`
	Amenities []string `json:"amenities,omitempty"`
}

// CategoryExtension carries listing attributes that vary per category. It is
// stored alongside a booking and never consulted by pricing or ledger code.
type CategoryExtension struct {
	Category  ListingCategory     `json:"category"`
	Vehicle   *VehicleExtension   `json:"vehicle,omitempty"`
	Equipment *EquipmentExtension `json:"equipment,omitempty"`
	Space     *SpaceExtension     `json:"space,omitempty"`
}

// ParseCategoryExtension decodes raw category data into its typed shape.
// Unknown fields and unknown categories are rejected.
func ParseCategoryExtension(category ListingCategory, raw []byte) (CategoryExtension, error) {
	ext := CategoryExtension{Category: category}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ext, nil
	}
	var target any
	switch category {
	case CATEGORY_VEHICLE:
		ext.Vehicle = &VehicleExtension{}
		target = ext.Vehicle
	case CATEGORY_EQUIPMENT:
		ext.Equipment = &EquipmentExtension{}
		target = ext.Equipment
	case CATEGORY_SPACE:
		ext.Space = &SpaceExtension{}
		target = ext.Space
	default:
		return ext, &ValidationError{Field: "category", Message: fmt.Sprintf("unsupported category %q", category)}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return ext, &ValidationError{Field: "category_data", Message: err.Error()}
	}
	if err := validate.Struct(target); err != nil {
		return ext, &ValidationError{Field: "category_data", Message: err.Error()}
	}
	return ext, nil
}
