// Package store provides the Local Store for devicesync.
//
// The Local Store holds the records mirrored from, and uploaded to, the
// sync backend: Devices, their Components and append-only SensorReadings.
// It is backed by SQLite through the infrastructure/database package.
//
// # Writes
//
// Every mutation happens inside Store.Write:
//
//	err := st.Write(ctx, func(txn *store.Txn) error {
//	    d, err := txn.CreateDevice(ownerID, "Thermostat")
//	    if err != nil {
//	        return err
//	    }
//	    _, err = txn.AddComponent(d.ID, ownerID, "Sensor board")
//	    return err
//	})
//
// A Write either commits completely or not at all. Once it commits, its
// change events are handed to the Notifier in commit order. Local writes
// also append to an outbox (pending_changes) that the sync engine drains;
// ApplyRemote and Evict never do.
//
// # Reads
//
// Query and the typed helpers return snapshot slices. Readers never see a
// partially applied transaction. SensorReadings are upload-only: querying
// them returns ErrAsymmetric, and they are only reachable through
// PendingReadings until the sync engine acknowledges them.
//
// # Conflicts
//
// Remote changes are applied last-writer-wins on UpdatedAt.
package store
