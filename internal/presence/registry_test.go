package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"tutorhub/internal/store"
)

type fakeConn struct {
	userID string
	sent   []any
}

func (f *fakeConn) UserID() string { return f.userID }
func (f *fakeConn) Send(v any)     { f.sent = append(f.sent, v) }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeConn{userID: "a"}
	a2 := &fakeConn{userID: "a"}
	b := &fakeConn{userID: "b"}

	r.Register("a", a1, false)
	r.Register("a", a2, false)
	r.Register("b", b, true)

	assert.ElementsMatch(t, []Conn{a1, a2}, r.ConnectionsOf("a"))
	assert.ElementsMatch(t, []Conn{b}, r.ConnectionsOf("b"))
	assert.Empty(t, r.ConnectionsOf("nobody"))
	assert.Equal(t, 3, r.ConnectionCount())
}

func TestVolunteerGroup(t *testing.T) {
	r := NewRegistry()
	student := &fakeConn{userID: "student"}
	vol1 := &fakeConn{userID: "vol-1"}
	vol2 := &fakeConn{userID: "vol-2"}

	r.Register("student", student, false)
	r.Register("vol-1", vol1, true)
	r.Register("vol-2", vol2, true)

	assert.ElementsMatch(t, []Conn{vol1, vol2}, r.Volunteers())

	r.Deregister("vol-1", vol1)
	assert.ElementsMatch(t, []Conn{vol2}, r.Volunteers())
}

func TestDeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{userID: "a"}
	r.Register("a", c, true)

	r.Deregister("a", c)
	r.Deregister("a", c)
	r.Deregister("never-registered", &fakeConn{userID: "x"})

	assert.Empty(t, r.ConnectionsOf("a"))
	assert.Empty(t, r.Volunteers())
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestDeregisterKeepsOtherConnections(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeConn{userID: "a"}
	a2 := &fakeConn{userID: "a"}
	r.Register("a", a1, false)
	r.Register("a", a2, false)

	r.Deregister("a", a1)
	assert.ElementsMatch(t, []Conn{a2}, r.ConnectionsOf("a"))
}

func TestPartnerConnections(t *testing.T) {
	r := NewRegistry()
	student := &fakeConn{userID: "student-1"}
	vol := &fakeConn{userID: "vol-1"}
	r.Register("student-1", student, false)
	r.Register("vol-1", vol, true)

	volID := "vol-1"
	paired := &store.Session{ID: "s", StudentID: "student-1", VolunteerID: &volID}

	assert.ElementsMatch(t, []Conn{vol}, r.PartnerConnectionsOf(paired, "student-1"))
	assert.ElementsMatch(t, []Conn{student}, r.PartnerConnectionsOf(paired, "vol-1"))

	unpaired := &store.Session{ID: "s2", StudentID: "student-1"}
	assert.Empty(t, r.PartnerConnectionsOf(unpaired, "student-1"))
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	conns := make([]*fakeConn, 64)
	for i := range conns {
		conns[i] = &fakeConn{userID: "shared"}
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			r.Register("shared", c, true)
		}(conns[i])
	}
	wg.Wait()

	assert.Equal(t, 64, r.ConnectionCount())
	assert.Len(t, r.Volunteers(), 64)

	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			r.Deregister("shared", c)
		}(c)
	}
	wg.Wait()
	assert.Equal(t, 0, r.ConnectionCount())
}
