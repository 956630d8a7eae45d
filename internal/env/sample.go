package env

// Sample represents a single board environment measurement (BMP280).
type Sample struct {
	Temperature float64 `json:"temp_c"`       // °C
	Pressure    float64 `json:"pressure_pa"`  // Pa
	PressureHPa float64 `json:"pressure_hpa"` // hPa
}
