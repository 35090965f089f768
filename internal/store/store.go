package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Device is a registered voice device.
type Device struct {
	ID        string     `json:"id"`
	MacAddr   string     `json:"mac_addr"`
	LoginTime *time.Time `json:"login_time,omitempty"`
	Memory    *string    `json:"memory,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ErrNotFound is returned when a device does not exist.
var ErrNotFound = errors.New("not found")

// GetDevice returns the device with the given mac address.
func (s *Store) GetDevice(ctx context.Context, macAddr string) (*Device, error) {
	var d Device
	err := s.db.QueryRow(ctx, `
		SELECT id, mac_addr, login_time, memory, created_at
		FROM devices WHERE mac_addr = $1
	`, macAddr).Scan(&d.ID, &d.MacAddr, &d.LoginTime, &d.Memory, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

// RegisterLogin inserts the device on first sight and stamps its login time
// on every registration.
func (s *Store) RegisterLogin(ctx context.Context, macAddr string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO devices (mac_addr, login_time)
		VALUES ($1, now())
		ON CONFLICT (mac_addr) DO UPDATE SET login_time = now()
	`, macAddr)
	if err != nil {
		return fmt.Errorf("register login: %w", err)
	}
	return nil
}

// GetMemory returns the device's long-term memory summary, empty when the
// device is unknown or has none.
func (s *Store) GetMemory(ctx context.Context, macAddr string) (string, error) {
	var memory *string
	err := s.db.QueryRow(ctx, `
		SELECT memory FROM devices WHERE mac_addr = $1
	`, macAddr).Scan(&memory)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get memory: %w", err)
	}
	if memory == nil {
		return "", nil
	}
	return *memory, nil
}

// SaveMemory replaces the device's long-term memory summary.
func (s *Store) SaveMemory(ctx context.Context, macAddr, memory string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE devices SET memory = $2 WHERE mac_addr = $1
	`, macAddr, memory)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDevices returns devices ordered by most recent login.
func (s *Store) ListDevices(ctx context.Context, limit int) ([]Device, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, mac_addr, login_time, memory, created_at
		FROM devices
		ORDER BY login_time DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.MacAddr, &d.LoginTime, &d.Memory, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
