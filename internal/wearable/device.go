package wearable

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EmptyUID is the all-zero UID used when no device is attached.
const EmptyUID = "00000000-0000-0000-0000-000000000000"

// ProductID identifies a hardware product family.
type ProductID uint16

const (
	ProductUndefined  ProductID = 0
	ProductBoseFrames ProductID = 0x402C
	ProductQC35II     ProductID = 0x4020
)

func (p ProductID) String() string {
	switch p {
	case ProductUndefined:
		return "undefined"
	case ProductBoseFrames:
		return "bose_frames"
	case ProductQC35II:
		return "qc35_ii"
	default:
		return fmt.Sprintf("product(0x%04X)", uint16(p))
	}
}

// VariantID distinguishes models within a product family.
type VariantID uint8

const (
	VariantUndefined VariantID = 0

	FramesAlto  VariantID = 1
	FramesRondo VariantID = 2

	QC35IIBlack  VariantID = 1
	QC35IISilver VariantID = 2
)

// VariantName resolves a variant within its product family.
func VariantName(p ProductID, v VariantID) string {
	switch p {
	case ProductBoseFrames:
		switch v {
		case FramesAlto:
			return "alto"
		case FramesRondo:
			return "rondo"
		}
	case ProductQC35II:
		switch v {
		case QC35IIBlack:
			return "black"
		case QC35IISilver:
			return "silver"
		}
	}
	return "undefined"
}

// Device describes a wearable either found by a search or currently attached.
type Device struct {
	UID             string
	Name            string
	FirmwareVersion string
	RSSI            int32
	ProductID       ProductID
	VariantID       VariantID
	IsConnected     bool
}

// EmptyDevice is the placeholder reported while nothing is attached.
func EmptyDevice() Device { return Device{UID: EmptyUID} }

// Valid reports whether the UID is UUID-shaped.
func (d Device) Valid() bool { return ValidUID(d.UID) }

// ValidUID checks the canonical 36-character UUID form.
func ValidUID(uid string) bool {
	if len(uid) != 36 {
		return false
	}
	_, err := uuid.Parse(uid)
	return err == nil
}

// NewUID returns a fresh random UID in canonical form.
func NewUID() string { return strings.ToUpper(uuid.NewString()) }

func (d Device) String() string {
	name := d.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("%s [%s] %s/%s rssi=%d fw=%s", name, d.UID, d.ProductID, VariantName(d.ProductID, d.VariantID), d.RSSI, d.FirmwareVersion)
}
