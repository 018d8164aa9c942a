// Package units provides shared constants and conversions for energy, dose,
// length and density units used by the scoring engine.
//
// Internal canonical units: length in mm, energy in MeV, density in g/cm3,
// mass in kg. Dose is therefore carried internally as MeV/kg.
package units

// Energy unit names
const (
	EV  = "eV"
	KeV = "keV"
	MeV = "MeV"
	J   = "J"
)

// Dose unit names
const (
	Gy       = "Gy"
	CGy      = "cGy"
	MGy      = "mGy"
	MeVPerKg = "MeV/kg"
)

// Multipliers to the canonical energy unit (MeV).
const (
	ElectronVolt     = 1e-6
	KiloElectronVolt = 1e-3
	MegaElectronVolt = 1.0

	// JoulePerMeV is the CODATA exact value of 1 MeV in joules.
	JoulePerMeV = 1.602176634e-13
)

// Length and volume multipliers to the canonical length unit (mm).
const (
	Millimetre = 1.0
	Centimetre = 10.0
	Metre      = 1000.0

	// KgPerGramPerCm3Mm3 converts density[g/cm3] * volume[mm3] to mass[kg].
	KgPerGramPerCm3Mm3 = 1e-6
)

// ValidDoseUnits contains all valid dose unit values
var ValidDoseUnits = []string{Gy, CGy, MGy, MeVPerKg}

// IsValidDose checks if the given unit is in the list of valid dose units
func IsValidDose(unit string) bool {
	for _, validUnit := range ValidDoseUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidDoseUnitsString returns a comma-separated string of valid units for error messages
func GetValidDoseUnitsString() string {
	return "Gy, cGy, mGy, MeV/kg"
}

// Mass returns the mass in kg of a volume (mm3) of material with the given density (g/cm3).
func Mass(densityGPerCm3, volumeMm3 float64) float64 {
	return densityGPerCm3 * volumeMm3 * KgPerGramPerCm3Mm3
}

// ConvertDose converts a dose from MeV/kg to the target units.
// Unknown units fall back to Gy.
func ConvertDose(doseMeVPerKg float64, targetUnits string) float64 {
	gray := doseMeVPerKg * JoulePerMeV
	switch targetUnits {
	case CGy:
		return gray * 100
	case MGy:
		return gray * 1000
	case MeVPerKg:
		return doseMeVPerKg
	case Gy:
		return gray
	default:
		return gray
	}
}

// ConvertEnergy converts an energy in MeV to the target units.
// Unknown units are returned unchanged (MeV).
func ConvertEnergy(energyMeV float64, targetUnits string) float64 {
	switch targetUnits {
	case EV:
		return energyMeV / ElectronVolt
	case KeV:
		return energyMeV / KiloElectronVolt
	case J:
		return energyMeV * JoulePerMeV
	default:
		return energyMeV
	}
}
