package advertising

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/user/bluexfer/link"
)

// maxNameLen is what a scan response can carry after its own AD header.
const maxNameLen = MaxAdvertisingDataLen - 2

// AddressFor derives a stable 6-byte advertiser address from a device ID.
func AddressFor(deviceID string) [AddressLen]byte {
	var addr [AddressLen]byte
	if u, err := uuid.Parse(deviceID); err == nil {
		copy(addr[:], u[10:16])
		return addr
	}
	copy(addr[:], deviceID)
	return addr
}

// Build encodes adv as an advertising PDU plus a scan response carrying the
// local name. Only the first service UUID fits next to the flags and role.
func Build(addr [AddressLen]byte, adv link.Advertisement) (*PDU, *PDU, error) {
	role := byte(RolePeripheralOnly)
	if adv.CentralRole {
		role = RoleBothPeripheralFirst
	}
	ads := []ADStructure{
		{Type: ADTypeFlags, Data: []byte{FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported}},
		{Type: ADTypeLERole, Data: []byte{role}},
	}
	if len(adv.ServiceUUIDs) > 0 {
		ads = append(ads, ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: wireUUID(adv.ServiceUUIDs[0])})
	}
	if adv.TxPowerLevel != nil {
		ads = append(ads, ADStructure{Type: ADTypeTxPowerLevel, Data: []byte{byte(int8(*adv.TxPowerLevel))}})
	}
	data, err := EncodeADStructures(ads)
	if err != nil {
		return nil, nil, err
	}

	typ := byte(PDUTypeAdvNonconnInd)
	if adv.IsConnectable {
		typ = PDUTypeAdvInd
	}
	ind := &PDU{Type: typ, AdvA: addr, AdvData: data}

	nameAD := ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(adv.LocalName)}
	if len(nameAD.Data) > maxNameLen {
		nameAD = ADStructure{Type: ADTypeShortenedLocalName, Data: nameAD.Data[:maxNameLen]}
	}
	rspData, err := EncodeADStructures([]ADStructure{nameAD})
	if err != nil {
		return nil, nil, err
	}
	return ind, &PDU{Type: PDUTypeScanRsp, AdvA: addr, AdvData: rspData}, nil
}

// Parse decodes what a scanner saw. rsp may be nil when no scan response
// was received.
func Parse(ind, rsp *PDU) (link.Advertisement, error) {
	var adv link.Advertisement
	if ind == nil {
		return adv, fmt.Errorf("advertising: missing advertising PDU")
	}
	adv.IsConnectable = ind.Type == PDUTypeAdvInd

	ads, err := DecodeADStructures(ind.AdvData)
	if err != nil {
		return adv, err
	}
	if role, ok := Find(ads, ADTypeLERole); ok && len(role) == 1 {
		adv.CentralRole = role[0] != RolePeripheralOnly
	}
	if data, ok := Find(ads, ADTypeComplete128BitServiceUUIDs); ok {
		for off := 0; off+16 <= len(data); off += 16 {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, fromWire(data[off:off+16]))
		}
	}
	if p, ok := Find(ads, ADTypeTxPowerLevel); ok && len(p) == 1 {
		level := int(int8(p[0]))
		adv.TxPowerLevel = &level
	}

	if rsp != nil {
		rads, err := DecodeADStructures(rsp.AdvData)
		if err != nil {
			return adv, err
		}
		if name, ok := Find(rads, ADTypeCompleteLocalName); ok {
			adv.LocalName = string(name)
		} else if name, ok := Find(rads, ADTypeShortenedLocalName); ok {
			adv.LocalName = string(name)
		}
	}
	return adv, nil
}

// Marshal stores both PDUs back to back, the form an advertiser publishes.
func Marshal(ind, rsp *PDU) ([]byte, error) {
	a, err := ind.Encode()
	if err != nil {
		return nil, err
	}
	b, err := rsp.Encode()
	if err != nil {
		return nil, err
	}
	return append(a, b...), nil
}

// Unmarshal reverses Marshal. A missing scan response is not an error.
func Unmarshal(data []byte) (*PDU, *PDU, error) {
	ind, n, err := DecodePDU(data)
	if err != nil {
		return nil, nil, err
	}
	if n == len(data) {
		return ind, nil, nil
	}
	rsp, _, err := DecodePDU(data[n:])
	if err != nil {
		return nil, nil, err
	}
	if rsp.Type != PDUTypeScanRsp {
		return nil, nil, fmt.Errorf("advertising: expected SCAN_RSP, got %s", PDUTypeName(rsp.Type))
	}
	return ind, rsp, nil
}

// 128-bit UUIDs travel little-endian.
func wireUUID(u uuid.UUID) []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = u[15-i]
	}
	return b
}

func fromWire(b []byte) uuid.UUID {
	var u uuid.UUID
	for i := range u {
		u[i] = b[15-i]
	}
	return u
}
