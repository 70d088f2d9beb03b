package motion

// ZoneConfig defines a rectangular detection zone in luma-frame pixels.
type ZoneConfig struct {
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Enabled bool   `json:"enabled"`
}

// zone is a detection zone with its exclusively owned baseline.
type zone struct {
	ZoneConfig
	baseline []byte // previous frame's region, nil until the first frame is seen
}

func newZone(cfg ZoneConfig) *zone {
	return &zone{ZoneConfig: cfg}
}

// inBounds reports whether the rectangle lies entirely within a width x height frame.
func (c ZoneConfig) inBounds(width, height int) bool {
	return c.X >= 0 && c.Y >= 0 &&
		c.Width > 0 && c.Height > 0 &&
		c.X+c.Width <= width && c.Y+c.Height <= height
}

// compare computes the mean squared difference between the zone's region of
// frame and its baseline, then overwrites the baseline with the region.
// The first call seeds the baseline and reports 0.
func (z *zone) compare(frame []byte, stride int) float64 {
	size := z.Width * z.Height
	if z.baseline == nil {
		z.baseline = make([]byte, size)
		z.copyRegion(frame, stride)
		return 0
	}

	var sum uint64
	for row := range z.Height {
		start := (z.Y+row)*stride + z.X
		cur := frame[start : start+z.Width]
		prev := z.baseline[row*z.Width : (row+1)*z.Width]
		for i, p := range cur {
			d := int(p) - int(prev[i])
			sum += uint64(d * d)
		}
		copy(prev, cur)
	}

	return float64(sum) / float64(size)
}

func (z *zone) copyRegion(frame []byte, stride int) {
	for row := range z.Height {
		start := (z.Y+row)*stride + z.X
		copy(z.baseline[row*z.Width:(row+1)*z.Width], frame[start:start+z.Width])
	}
}
