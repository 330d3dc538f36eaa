package fobcore

import (
	"bytes"
	"fmt"
	"testing"
)

// byteQueue is one direction of an in-memory serial wire.
type byteQueue struct {
	b []byte
}

// pipePort is one end of a loopback link for tests: reads drain one
// queue, writes fill the other.
type pipePort struct {
	in  *byteQueue
	out *byteQueue
}

func (p *pipePort) ReadByte() (byte, bool) {
	if len(p.in.b) == 0 {
		return 0, false
	}
	b := p.in.b[0]
	p.in.b = p.in.b[1:]
	return b, true
}

func (p *pipePort) Write(buf []byte) error {
	p.out.b = append(p.out.b, buf...)
	return nil
}

// drain empties and returns everything queued toward this end.
func (p *pipePort) drain() []byte {
	out := p.in.b
	p.in.b = nil
	return out
}

func pipePair() (*pipePort, *pipePort) {
	a, b := &byteQueue{}, &byteQueue{}
	return &pipePort{in: a, out: b}, &pipePort{in: b, out: a}
}

// deadPort is a link with nothing on the other side.
type deadPort struct{}

func (deadPort) ReadByte() (byte, bool) { return 0, false }
func (deadPort) Write(p []byte) error   { return nil }

// lcgReader is a deterministic entropy source for tests.
type lcgReader struct {
	state uint32
}

func newLCG(seed uint32) *lcgReader {
	return &lcgReader{state: seed}
}

func (r *lcgReader) Read(p []byte) (int, error) {
	for i := range p {
		r.state = r.state*1664525 + 1013904223
		p[i] = byte(r.state >> 16)
	}
	return len(p), nil
}

// memFlash is a fob flash page that enforces the erase-then-program
// ordering and can be made to fail on demand.
type memFlash struct {
	page        []byte
	erased      bool
	failErase   bool
	failProgram bool
	commits     int
}

func newMemFlash() *memFlash {
	f := &memFlash{page: make([]byte, 64)}
	for i := range f.page {
		f.page[i] = 0xFF
	}
	return f
}

func (f *memFlash) Read() ([]byte, error) {
	out := make([]byte, len(f.page))
	copy(out, f.page)
	return out, nil
}

func (f *memFlash) Erase() error {
	if f.failErase {
		return fmt.Errorf("flash erase fault")
	}
	for i := range f.page {
		f.page[i] = 0xFF
	}
	f.erased = true
	return nil
}

func (f *memFlash) Program(p []byte) error {
	if f.failProgram {
		return fmt.Errorf("flash program fault")
	}
	if !f.erased {
		return fmt.Errorf("program without erase")
	}
	copy(f.page, p)
	f.erased = false
	f.commits++
	return nil
}

// writePage seeds the flash page with an existing fob state, bypassing
// the commit path, as factory provisioning would.
func (f *memFlash) writePage(s *FobState) {
	copy(f.page, s.marshal())
	f.erased = false
}

// testEEPROM builds a car/fob EEPROM image with the two provisioning
// keys at their fixed offsets and the four banners near the top.
func testEEPROM(pinKey, featureKey []byte, unlockBanner []byte, featureBanners [3][]byte) *bytes.Reader {
	img := make([]byte, 2048)
	copy(img[PinKeyLoc:], pinKey)
	copy(img[FeatureKeyLoc:], featureKey)
	copy(img[UnlockBannerLoc:], unlockBanner)
	for i := 0; i < 3; i++ {
		copy(img[featureBannerLoc(i):], featureBanners[i])
	}
	return bytes.NewReader(img)
}

func fillBanner(tag byte) []byte {
	b := make([]byte, BannerSize)
	for i := range b {
		b[i] = tag
	}
	return b
}

// pump steps every device a bounded number of times so all queued
// frames flow through both links.
func pump(t *testing.T, devs ...*Device) {
	t.Helper()
	for i := 0; i < 400; i++ {
		for _, d := range devs {
			if err := d.Step(); err != nil {
				t.Fatalf("Step returned error: %v", err)
			}
		}
	}
}

// hostExpect polls the host link, stepping the devices between polls,
// until a frame arrives; it fails the test if none does.
func hostExpect(t *testing.T, h *Host, devs ...*Device) []byte {
	t.Helper()
	for i := 0; i < 400; i++ {
		payload, ok, err := h.Poll()
		if err != nil {
			t.Fatalf("host poll error: %v", err)
		}
		if ok {
			return payload
		}
		for _, d := range devs {
			if err := d.Step(); err != nil {
				t.Fatalf("Step returned error: %v", err)
			}
		}
	}
	t.Fatalf("no frame arrived on host link")
	return nil
}

// hostConnect completes the host-side handshake against the devices.
func hostConnect(t *testing.T, h *Host, devs ...*Device) {
	t.Helper()
	if err := h.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for i := 0; i < 400 && !h.Established(); i++ {
		if _, _, err := h.Poll(); err != nil {
			t.Fatalf("host poll error: %v", err)
		}
		for _, d := range devs {
			if err := d.Step(); err != nil {
				t.Fatalf("Step returned error: %v", err)
			}
		}
	}
	if !h.Established() {
		t.Fatalf("host session never established")
	}
}
