package dhcp

import (
	"net"
	"testing"
)

var (
	macLow  = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	macHigh = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
)

func TestClientIDExplicitIDWinsOverMAC(t *testing.T) {
	c := NewClientID([]byte{0x01, 0x02, 0x03}, macHigh)
	if !c.HasExplicitID() {
		t.Fatal("expected explicit id")
	}
	if got := c.ID(); len(got) != 3 || got[0] != 0x01 {
		t.Fatalf("ID = %v", got)
	}
	if c.Key() != "id:010203" {
		t.Fatalf("Key = %q", c.Key())
	}
}

func TestClientIDOrderingByID(t *testing.T) {
	a := NewClientID([]byte{0x01}, macHigh)
	b := NewClientID([]byte{0x02}, macLow)
	if a.Compare(b) >= 0 {
		t.Fatal("id 0x01 must sort before id 0x02 regardless of MAC")
	}
	if b.Compare(a) <= 0 {
		t.Fatal("ordering must be antisymmetric")
	}
}

func TestClientIDOrderingByMAC(t *testing.T) {
	a := NewClientID(nil, macLow)
	b := NewClientID(nil, macHigh)
	if a.Compare(b) >= 0 {
		t.Fatal("lower MAC must sort first when neither has an id")
	}
}

func TestClientIDBandsAreDisjoint(t *testing.T) {
	// Any identity with an explicit id sorts after any identity without,
	// even when the id-less one has the higher MAC.
	withID := NewClientID([]byte{0x00}, macLow)
	withoutID := NewClientID(nil, macHigh)

	if withID.Compare(withoutID) <= 0 {
		t.Fatal("identity with explicit id must sort after identity without")
	}
	if withoutID.Compare(withID) >= 0 {
		t.Fatal("identity without id must sort before identity with")
	}
}

func TestClientIDEquality(t *testing.T) {
	a := NewClientID([]byte{0x01, 0x02}, macLow)
	b := NewClientID([]byte{0x01, 0x02}, macHigh)
	if !a.Equal(b) {
		t.Fatal("identities with equal explicit ids are equal, MAC ignored")
	}

	c := NewClientID(nil, macLow)
	d := NewClientID(nil, append(net.HardwareAddr(nil), macLow...))
	if !c.Equal(d) {
		t.Fatal("identities with equal MACs and no id are equal")
	}
	if c.Equal(a) {
		t.Fatal("id-carrying and id-less identities are never equal")
	}
	if a.Key() == c.Key() {
		t.Fatal("keys must be distinct across bands")
	}
}

func TestClientIDImmutable(t *testing.T) {
	raw := []byte{0x01, 0x02}
	c := NewClientID(raw, macLow)
	raw[0] = 0xff
	if got := c.ID(); got[0] != 0x01 {
		t.Fatal("constructor must copy the identifier")
	}
	got := c.ID()
	got[0] = 0xff
	if again := c.ID(); again[0] != 0x01 {
		t.Fatal("accessor must return a copy")
	}
}
