package camera

// Config holds the stream parameters that matter to the focus algorithms.
type Config struct {
	// Stream resolution and rate.
	Width     int `json:"width"`
	Height    int `json:"height"`
	Framerate int `json:"framerate"` // frames per second

	// Quality is the JPEG quality factor, 1-100. The fast autofocus methods
	// use frame size as a sharpness proxy, which is only valid at constant
	// quality with no bitrate limiting.
	Quality int `json:"quality"`
}

// DefaultConfig returns the stock streaming configuration.
func DefaultConfig() Config {
	return Config{
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   75,
	}
}

// Validate checks the config values, returning a list of problems or nil.
func (c *Config) Validate() []string {
	var errs []string
	if c.Width < 160 || c.Height < 120 {
		errs = append(errs, "resolution must be at least 160x120")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errs = append(errs, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, "quality must be between 1 and 100")
	}
	return errs
}
