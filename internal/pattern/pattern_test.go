package pattern

import (
	"errors"
	"testing"
)

func TestValidDivision(t *testing.T) {
	for _, d := range Divisions {
		if !ValidDivision(d) {
			t.Errorf("ValidDivision(%d) = false, want true", d)
		}
	}
	for _, d := range []int{0, -4, 5, 7, 9, 64} {
		if ValidDivision(d) {
			t.Errorf("ValidDivision(%d) = true, want false", d)
		}
	}
}

func TestNameFromSample(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"kits/808/kick.wav", "kick"},
		{"snare.flac", "snare"},
		{"hat", "hat"},
		{"", "track"},
	}
	for _, tt := range tests {
		if got := NameFromSample(tt.path); got != tt.want {
			t.Errorf("NameFromSample(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestTrackResize(t *testing.T) {
	tests := []struct {
		name  string
		slots []uint8
		idx   int
		n     int
		want  []uint8
		idxTo int
	}{
		{"truncate", []uint8{1, 2, 3, 4, 5}, 4, 3, []uint8{1, 2, 3}, 1},
		{"pad", []uint8{9, 8}, 1, 5, []uint8{9, 8, 0, 0, 0}, 1},
		{"same", []uint8{7, 7, 7}, 2, 3, []uint8{7, 7, 7}, 2},
		{"to one", []uint8{5, 6, 7, 8}, 3, 1, []uint8{5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &Track{Slots: append([]uint8(nil), tt.slots...), Idx: tt.idx}
			tr.Resize(tt.n)
			if tr.Len() != tt.n {
				t.Fatalf("Len() = %d, want %d", tr.Len(), tt.n)
			}
			for i, v := range tt.want {
				if tr.Slots[i] != v {
					t.Errorf("Slots[%d] = %d, want %d", i, tr.Slots[i], v)
				}
			}
			if tr.Idx != tt.idxTo {
				t.Errorf("Idx = %d, want %d", tr.Idx, tt.idxTo)
			}
		})
	}
}

func TestTrackAdvanceWraps(t *testing.T) {
	tr := NewTrack("kick", "kick.wav", 3)
	for i := 0; i < 7; i++ {
		tr.Advance()
	}
	if tr.Idx != 1 {
		t.Errorf("Idx after 7 advances on len 3 = %d, want 1", tr.Idx)
	}
}

func TestMasterLength(t *testing.T) {
	p := New(0, "p", 8, DefaultDivision)
	if p.MasterLength() != 8 {
		t.Errorf("MasterLength with no tracks = %d, want nominal 8", p.MasterLength())
	}
	p.AddTrack("a.wav").Resize(3)
	p.AddTrack("b.wav").Resize(12)
	if p.MasterLength() != 12 {
		t.Errorf("MasterLength = %d, want 12", p.MasterLength())
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := New(0, "p", 4, DefaultDivision)
	p.AddTrack("a.wav").Slots[0] = 100
	c := p.Clone()
	c.Tracks[0].Slots[0] = 1
	if p.Tracks[0].Slots[0] != 100 {
		t.Error("Clone shares slot storage with original")
	}
}

func TestValidSample(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"", true},
		{"kick.wav", true},
		{"kits/808/snare.wav", true},
		{"../kick.wav", false},
		{"kits/../../kick.wav", false},
		{"/tmp/kick.wav", false},
	}
	for _, tt := range tests {
		if got := ValidSample(tt.path); got != tt.want {
			t.Errorf("ValidSample(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	good := New(0, "p", 4, 16)
	good.AddTrack("a.wav")
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() on good pattern: %v", err)
	}

	bad := []func(p *Pattern){
		func(p *Pattern) { p.Length = 0 },
		func(p *Pattern) { p.Division = 5 },
		func(p *Pattern) { p.Swing = 101 },
		func(p *Pattern) { p.Tracks[0].Slots = nil },
		func(p *Pattern) { p.Tracks[0].Slots[1] = 200 },
		func(p *Pattern) { p.Tracks = append(p.Tracks, nil) },
		func(p *Pattern) { p.Tracks[0].Choke = MaxChoke + 1 },
		func(p *Pattern) { p.Tracks[0].Choke = -1 },
		func(p *Pattern) { p.Tracks[0].Sample = "../secret.wav" },
		func(p *Pattern) { p.Tracks[0].Sample = "/etc/passwd" },
	}
	for i, mutate := range bad {
		p := good.Clone()
		mutate(p)
		if err := p.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("case %d: Validate() = %v, want ErrInvalid", i, err)
		}
	}
}
