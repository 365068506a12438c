package gatt

import "github.com/google/uuid"

// Default transfer service and characteristic UUIDs.
var (
	DefaultServiceUUID = uuid.MustParse("E20A39F4-73F5-4BC4-A12F-17D1AD07A961")
	DefaultRxUUID      = uuid.MustParse("08590F7E-DB05-467E-8757-72F6FAEB13D4")
	DefaultTxUUID      = uuid.MustParse("8c380001-10bd-4fdb-ba21-1922d6cf860d")
)

// TransferTable is the server table every simulated device exposes: a
// Generic Access service carrying the device name, then the transfer service
// with a receive characteristic (central writes) and a send characteristic
// (peripheral notifies).
type TransferTable struct {
	DB      *Database
	Service ServiceHandles

	RxValue uint16
	TxValue uint16
	TxCCCD  uint16
}

// NewTransferTable builds the table.
func NewTransferTable(deviceName string, service, rx, tx uuid.UUID) *TransferTable {
	db := NewDatabase()
	db.AddService(Service{
		UUID: UUIDGenericAccess,
		Characteristics: []Characteristic{
			{UUID: UUIDDeviceName, Properties: PropRead, Value: []byte(deviceName)},
		},
	})

	sh := db.AddService(Service{
		UUID: FromUUID(service),
		Characteristics: []Characteristic{
			{UUID: FromUUID(rx), Properties: PropWrite | PropWriteWithoutResponse},
			{UUID: FromUUID(tx), Properties: PropNotify},
		},
	})

	return &TransferTable{
		DB:      db,
		Service: sh,
		RxValue: sh.Characteristics[0].Value,
		TxValue: sh.Characteristics[1].Value,
		TxCCCD:  sh.Characteristics[1].CCCD,
	}
}
