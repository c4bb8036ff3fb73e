package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// queryer is satisfied by both *sql.DB and *sql.Tx so reads can run inside
// or outside a write transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const deviceColumns = `d.id, d.owner_id, d.name, d.is_on, d.scratch, d.last_reading, d.created_at, d.updated_at`

const componentColumns = `c.id, c.owner_id, c.device_id, c.name, c.position, c.created_at, c.updated_at`

// queryDevices returns devices matching f, oldest first, with their
// components attached.
func queryDevices(ctx context.Context, q queryer, f Filter) ([]Device, error) {
	if err := f.Validate(TypeDevice); err != nil {
		return nil, err
	}
	where, args := f.where("d")
	query := `SELECT ` + deviceColumns + ` FROM devices d` + where + ` ORDER BY d.created_at, d.rowid`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	if len(devices) == 0 {
		return []Device{}, nil
	}

	if err := attachComponents(ctx, q, devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// getDevice returns one device with its components.
func getDevice(ctx context.Context, q queryer, id string) (*Device, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices d WHERE d.id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	devices := []Device{*d}
	if err := attachComponents(ctx, q, devices); err != nil {
		return nil, err
	}
	return &devices[0], nil
}

// attachComponents loads the components of devices in one query.
func attachComponents(ctx context.Context, q queryer, devices []Device) error {
	placeholders := make([]string, len(devices))
	args := make([]any, len(devices))
	index := make(map[string]int, len(devices))
	for i := range devices {
		placeholders[i] = "?"
		args[i] = devices[i].ID
		index[devices[i].ID] = i
		devices[i].Components = []Component{}
	}

	query := `SELECT ` + componentColumns + ` FROM components c
		WHERE c.device_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY c.device_id, c.position`

	comps, err := scanComponents(ctx, q, query, args...)
	if err != nil {
		return err
	}
	for _, c := range comps {
		i := index[c.DeviceID]
		devices[i].Components = append(devices[i].Components, c)
	}
	return nil
}

// queryComponents returns components matching f.
func queryComponents(ctx context.Context, q queryer, f Filter) ([]Component, error) {
	if err := f.Validate(TypeComponent); err != nil {
		return nil, err
	}
	where, args := f.where("c")
	query := `SELECT ` + componentColumns + ` FROM components c` + where + ` ORDER BY c.created_at, c.rowid`
	return scanComponents(ctx, q, query, args...)
}

// getComponent returns one component.
func getComponent(ctx context.Context, q queryer, id string) (*Component, error) {
	row := q.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components c WHERE c.id = ?`, id)
	c, err := scanComponent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("component %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying component by id: %w", err)
	}
	return c, nil
}

func scanComponents(ctx context.Context, q queryer, query string, args ...any) ([]Component, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying components: %w", err)
	}
	defer rows.Close()

	comps := []Component{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning component: %w", err)
		}
		comps = append(comps, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating components: %w", err)
	}
	return comps, nil
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var isOn int
	var scratch sql.NullString
	var lastReading sql.NullFloat64
	var createdAt, updatedAt string

	if err := scanner.Scan(&d.ID, &d.OwnerID, &d.Name, &isOn, &scratch, &lastReading, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.IsOn = isOn != 0
	if scratch.Valid {
		if err := json.Unmarshal([]byte(scratch.String), &d.Scratch); err != nil {
			return nil, fmt.Errorf("unmarshalling scratch: %w", err)
		}
	}
	if lastReading.Valid {
		v := lastReading.Float64
		d.LastReading = &v
	}

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func scanComponent(scanner rowScanner) (*Component, error) {
	var c Component
	var createdAt, updatedAt string

	if err := scanner.Scan(&c.ID, &c.OwnerID, &c.DeviceID, &c.Name, &c.Position, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// queryRecords runs a typed query and returns the results as Records.
func queryRecords(ctx context.Context, q queryer, t RecordType, f Filter) ([]Record, error) {
	switch t {
	case TypeDevice:
		devices, err := queryDevices(ctx, q, f)
		if err != nil {
			return nil, err
		}
		out := make([]Record, len(devices))
		for i := range devices {
			out[i] = &devices[i]
		}
		return out, nil
	case TypeComponent:
		comps, err := queryComponents(ctx, q, f)
		if err != nil {
			return nil, err
		}
		out := make([]Record, len(comps))
		for i := range comps {
			out[i] = &comps[i]
		}
		return out, nil
	case TypeSensorReading:
		return nil, ErrAsymmetric
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}
