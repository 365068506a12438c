package gatt

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Characteristic properties.
const (
	PropRead                 = 0x02
	PropWriteWithoutResponse = 0x04
	PropWrite                = 0x08
	PropNotify               = 0x10
	PropIndicate             = 0x20
)

// Attribute permissions (server side only, never sent over the air).
const (
	PermReadable = 0x01
	PermWritable = 0x02
)

// Attribute is one row of the attribute table.
type Attribute struct {
	Handle      uint16
	Type        []byte
	Value       []byte
	Permissions uint8

	// GroupEnd is the last handle of a service, set on service declarations.
	GroupEnd uint16
}

// Service and Characteristic describe a table to build. A CCCD is added
// automatically after the value of every notifying characteristic.
type Service struct {
	UUID            []byte
	Characteristics []Characteristic
}

type Characteristic struct {
	UUID       []byte
	Properties uint8
	Value      []byte
}

// CharacteristicHandles locates one built characteristic.
type CharacteristicHandles struct {
	Declaration uint16
	Value       uint16
	CCCD        uint16 // 0 when the characteristic cannot notify
}

// ServiceHandles locates one built service.
type ServiceHandles struct {
	Start, End      uint16
	Characteristics []CharacteristicHandles // same order as the definition
}

// Database is a server's attribute table. Handles start at 0x0001 and are
// dense, so handle h lives at attrs[h-1].
type Database struct {
	mu    sync.RWMutex
	attrs []*Attribute
}

// NewDatabase creates an empty table.
func NewDatabase() *Database {
	return &Database{}
}

// Add appends an attribute and returns its handle.
func (db *Database) Add(typ, value []byte, perms uint8) uint16 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.addLocked(typ, value, perms)
}

func (db *Database) addLocked(typ, value []byte, perms uint8) uint16 {
	h := uint16(len(db.attrs) + 1)
	db.attrs = append(db.attrs, &Attribute{
		Handle:      h,
		Type:        append([]byte{}, typ...),
		Value:       append([]byte{}, value...),
		Permissions: perms,
	})
	return h
}

// AddService appends a primary service with its characteristics.
func (db *Database) AddService(s Service) ServiceHandles {
	db.mu.Lock()
	defer db.mu.Unlock()

	var sh ServiceHandles
	sh.Start = db.addLocked(UUIDPrimaryService, s.UUID, PermReadable)

	for _, c := range s.Characteristics {
		var ch CharacteristicHandles

		// Declaration value: [properties][value handle][uuid]
		decl := make([]byte, 3+len(c.UUID))
		decl[0] = c.Properties
		binary.LittleEndian.PutUint16(decl[1:3], uint16(len(db.attrs)+2))
		copy(decl[3:], c.UUID)
		ch.Declaration = db.addLocked(UUIDCharacteristic, decl, PermReadable)

		ch.Value = db.addLocked(c.UUID, c.Value, permissionsFor(c.Properties))

		if c.Properties&(PropNotify|PropIndicate) != 0 {
			ch.CCCD = db.addLocked(UUIDClientCharacteristicConfig, []byte{0x00, 0x00}, PermReadable|PermWritable)
		}
		sh.Characteristics = append(sh.Characteristics, ch)
	}

	sh.End = uint16(len(db.attrs))
	db.attrs[sh.Start-1].GroupEnd = sh.End
	return sh
}

func permissionsFor(props uint8) uint8 {
	var perms uint8
	if props&PropRead != 0 {
		perms |= PermReadable
	}
	if props&(PropWrite|PropWriteWithoutResponse) != 0 {
		perms |= PermWritable
	}
	return perms
}

// Attribute returns a copy of the attribute at handle.
func (db *Database) Attribute(handle uint16) (Attribute, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if handle == 0 || int(handle) > len(db.attrs) {
		return Attribute{}, false
	}
	return copyAttribute(db.attrs[handle-1]), true
}

// SetValue replaces an attribute value.
func (db *Database) SetValue(handle uint16, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if handle == 0 || int(handle) > len(db.attrs) {
		return fmt.Errorf("gatt: invalid handle 0x%04X", handle)
	}
	db.attrs[handle-1].Value = append([]byte{}, value...)
	return nil
}

// ByType returns copies of every attribute of typ within [start, end].
func (db *Database) ByType(start, end uint16, typ []byte) []Attribute {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []Attribute
	for _, a := range db.window(start, end) {
		if SameUUID(a.Type, typ) {
			out = append(out, copyAttribute(a))
		}
	}
	return out
}

// Groups returns the primary services whose declaration lies in [start, end].
func (db *Database) Groups(start, end uint16) []DiscoveredService {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []DiscoveredService
	for _, a := range db.window(start, end) {
		if SameUUID(a.Type, UUIDPrimaryService) {
			out = append(out, DiscoveredService{
				UUID:        append([]byte{}, a.Value...),
				StartHandle: a.Handle,
				EndHandle:   a.GroupEnd,
			})
		}
	}
	return out
}

// Len returns the number of attributes.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.attrs)
}

func (db *Database) window(start, end uint16) []*Attribute {
	if start == 0 {
		start = 1
	}
	if int(start) > len(db.attrs) || end < start {
		return nil
	}
	last := int(end)
	if last > len(db.attrs) {
		last = len(db.attrs)
	}
	return db.attrs[start-1 : last]
}

func copyAttribute(a *Attribute) Attribute {
	c := *a
	c.Type = append([]byte{}, a.Type...)
	c.Value = append([]byte{}, a.Value...)
	return c
}
