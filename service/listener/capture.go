package listener

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Capture buffers raw datagrams in memory and writes them as a JSON array of
// byte arrays, the packets.json format replay reads.
type Capture struct {
	path  string
	limit int

	mu      sync.Mutex
	packets [][]byte
}

// NewCapture creates a capture that keeps at most limit packets (0 = unbounded).
func NewCapture(path string, limit int) *Capture {
	return &Capture{path: path, limit: limit}
}

// Add records a datagram. It reports false once the limit is reached.
func (c *Capture) Add(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && len(c.packets) >= c.limit {
		return false
	}
	c.packets = append(c.packets, raw)
	return true
}

func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

// Full reports whether the capture limit has been reached.
func (c *Capture) Full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit > 0 && len(c.packets) >= c.limit
}

// Flush writes every captured packet to the capture path.
func (c *Capture) Flush() error {
	c.mu.Lock()
	packets := make([]packet, len(c.packets))
	for i, p := range c.packets {
		packets[i] = p
	}
	c.mu.Unlock()

	data, err := json.Marshal(packets)
	if err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write capture %s: %w", c.path, err)
	}
	return nil
}

// LoadCapture reads a packets.json file.
func LoadCapture(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture %s: %w", path, err)
	}
	var packets []packet
	if err := json.Unmarshal(data, &packets); err != nil {
		return nil, fmt.Errorf("failed to decode capture %s: %w", path, err)
	}
	out := make([][]byte, len(packets))
	for i, p := range packets {
		out[i] = p
	}
	return out, nil
}

// packet marshals as an array of numbers rather than base64.
type packet []byte

func (p packet) MarshalJSON() ([]byte, error) {
	nums := make([]uint16, len(p))
	for i, b := range p {
		nums[i] = uint16(b)
	}
	return json.Marshal(nums)
}

func (p *packet) UnmarshalJSON(data []byte) error {
	var nums []uint16
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	buf := make([]byte, len(nums))
	for i, n := range nums {
		if n > 0xFF {
			return fmt.Errorf("byte value %d out of range at offset %d", n, i)
		}
		buf[i] = byte(n)
	}
	*p = buf
	return nil
}
