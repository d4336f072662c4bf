package portprobe

import (
	"context"
	"errors"
	"testing"
	"time"
)

const lsofSample = `COMMAND   PID USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
node    93214 dev    23u  IPv4 0x4f2b3c8a      0t0  TCP 127.0.0.1:5173 (LISTEN)
node    93214 dev    24u  IPv6 0x4f2b3c8b      0t0  TCP [::1]:5173 (LISTEN)
node    93214 dev    25u  IPv4 0x4f2b3c8c      0t0  TCP *:3002 (LISTEN)
node    93214 dev    26u  IPv4 0x4f2b3c8d      0t0  TCP 127.0.0.1:52110->127.0.0.1:443 (ESTABLISHED)
`

func TestParseLsof(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int
	}{
		{"multiple listeners sorted", lsofSample, []int{3002, 5173}},
		{"empty output", "", nil},
		{"header only", "COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME\n", nil},
		{"wildcard bind", "node 1 u 3u IPv4 0x1 0t0 TCP *:8080 (LISTEN)\n", []int{8080}},
		{"ipv6 bracket bind", "node 1 u 3u IPv6 0x1 0t0 TCP [::]:9000 (LISTEN)\n", []int{9000}},
		{"garbage line survives", "not an lsof line (LISTEN)\nnode 1 u 3u IPv4 0x1 0t0 TCP *:81 (LISTEN)\n", []int{81}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLsof([]byte(tt.in))
			if len(got) != len(tt.want) {
				t.Fatalf("ParseLsof = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseLsof = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

// scriptedProber answers each poll from a fixed script.
type scriptedProber struct {
	script [][]int
	errs   []error
	calls  int
}

func (p *scriptedProber) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	i := p.calls
	p.calls++
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.script[i], err
}

func testDetector(p Prober, maxPolls int) *Detector {
	return &Detector{Prober: p, Interval: time.Millisecond, MaxPolls: maxPolls}
}

func TestDetectFindsLowestPort(t *testing.T) {
	d := testDetector(&scriptedProber{script: [][]int{nil, nil, {5173, 3002}}}, 10)
	port, ok := d.Detect(context.Background(), 1234)
	if !ok || port != 3002 {
		t.Errorf("Detect = (%d, %v), want (3002, true)", port, ok)
	}
}

func TestDetectGivesUpAtCeiling(t *testing.T) {
	p := &scriptedProber{script: [][]int{nil}}
	d := testDetector(p, 5)
	if port, ok := d.Detect(context.Background(), 1234); ok {
		t.Errorf("Detect found port %d from a portless process", port)
	}
	if p.calls != 5 {
		t.Errorf("detector polled %d times, want 5", p.calls)
	}
}

func TestDetectSurvivesScanErrors(t *testing.T) {
	p := &scriptedProber{
		script: [][]int{nil, {4000}},
		errs:   []error{errors.New("lsof exploded")},
	}
	d := testDetector(p, 10)
	port, ok := d.Detect(context.Background(), 1234)
	if !ok || port != 4000 {
		t.Errorf("Detect = (%d, %v), want (4000, true)", port, ok)
	}
}

func TestDetectCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := testDetector(&scriptedProber{script: [][]int{{3000}}}, 10)
	if port, ok := d.Detect(ctx, 1234); ok {
		t.Errorf("canceled Detect reported port %d", port)
	}
}
