package types

// ------------------------
// Temperature & humidity
// ------------------------

type TemperatureInfo struct {
	Sensor string `json:"sensor"` // "dht11", "dht22", "am2302"
	Type   int    `json:"type"`   // numeric sensor type: 11, 22 or 2302
	Pin    int    `json:"pin"`    // GPIO line number
	Units  string `json:"units"`  // "°C"
}

type HumidityInfo struct {
	Sensor string `json:"sensor"`
	Type   int    `json:"type"`
	Pin    int    `json:"pin"`
	Units  string `json:"units"` // "%"
}

type TemperatureValue struct {
	// Tenths of °C (e.g. 231 => 23.1°C).
	DeciC int16 `json:"deci_c"`
	Index int   `json:"index,omitempty"`
}

func (v TemperatureValue) Celsius() float64 { return float64(v.DeciC) / 10 }

type HumidityValue struct {
	// Hundredths of %RH (0..10000 for 0..100.00%).
	RHx100 uint16 `json:"rh_x100"`
	Index  int    `json:"index,omitempty"`
}

func (v HumidityValue) Percent() float64 { return float64(v.RHx100) / 100 }
