package ntp

// MeasureOnce runs a single measurement attempt.
func (c *Client) MeasureOnce() { c.measure() }
