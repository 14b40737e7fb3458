package security

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	// FingerprintMagic opens every fingerprint blob.
	FingerprintMagic = "fitF"
	// FingerprintAlgAESDM identifies a Davies-Meyer (AES) device hash.
	FingerprintAlgAESDM uint32 = 1
	// FingerprintSize is the encoded blob length: magic, algorithm, hash.
	FingerprintSize = 4 + 4 + DMSize

	// MinDeviceIDLen and MaxDeviceIDLen bound raw device id bytes.
	MinDeviceIDLen = 4
	MaxDeviceIDLen = 64
)

var (
	ErrFingerprintMagic     = errors.New("fingerprint magic mismatch")
	ErrFingerprintAlgorithm = errors.New("unsupported fingerprint algorithm")
	ErrFingerprintSize      = errors.New("fingerprint has wrong size")
	ErrDeviceIDLength       = fmt.Errorf("device id must be %d to %d bytes", MinDeviceIDLen, MaxDeviceIDLen)
)

// Fingerprint binds a license to one device.
type Fingerprint struct {
	Algorithm uint32
	Hash      [DMSize]byte
}

// ComputeFingerprint hashes raw device id bytes into a fingerprint.
func ComputeFingerprint(deviceID []byte) (Fingerprint, error) {
	if len(deviceID) < MinDeviceIDLen || len(deviceID) > MaxDeviceIDLen {
		return Fingerprint{}, ErrDeviceIDLength
	}
	return Fingerprint{Algorithm: FingerprintAlgAESDM, Hash: DaviesMeyer(deviceID)}, nil
}

// MarshalBinary encodes the fingerprint blob.
func (f Fingerprint) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, FingerprintSize)
	out = append(out, FingerprintMagic...)
	out = binary.LittleEndian.AppendUint32(out, f.Algorithm)
	return append(out, f.Hash[:]...), nil
}

// ParseFingerprint decodes a blob, checking the magic and algorithm.
func ParseFingerprint(b []byte) (Fingerprint, error) {
	if len(b) != FingerprintSize {
		return Fingerprint{}, ErrFingerprintSize
	}
	if !SecureCompare(b[:4], []byte(FingerprintMagic)) {
		return Fingerprint{}, ErrFingerprintMagic
	}
	f := Fingerprint{Algorithm: binary.LittleEndian.Uint32(b[4:8])}
	if f.Algorithm != FingerprintAlgAESDM {
		return Fingerprint{}, ErrFingerprintAlgorithm
	}
	copy(f.Hash[:], b[8:])
	return f, nil
}

// Matches compares the hashes in constant time.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.Algorithm == other.Algorithm && SecureCompare(f.Hash[:], other.Hash[:])
}

// DeviceIDSource supplies the raw bytes that identify this device.
type DeviceIDSource interface {
	DeviceID(ctx context.Context) ([]byte, error)
}

// StaticDeviceID is a fixed device id, for devices that burn one into
// storage and for tests.
type StaticDeviceID []byte

func (s StaticDeviceID) DeviceID(context.Context) ([]byte, error) {
	return append([]byte(nil), s...), nil
}

// HostDeviceID derives a device id from host hardware factors (MAC
// address, hostname, CPU identity, platform). The result is cached.
type HostDeviceID struct {
	cache         []byte
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
	logger        *slog.Logger
}

// NewHostDeviceID creates a host device id source with caching.
func NewHostDeviceID(logger *slog.Logger) *HostDeviceID {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostDeviceID{
		cacheDuration: 1 * time.Hour,
		logger:        logger.With(slog.String("component", "device_id")),
	}
}

// DeviceID implements DeviceIDSource.
func (h *HostDeviceID) DeviceID(ctx context.Context) ([]byte, error) {
	h.cacheMutex.RLock()
	if h.cache != nil && time.Now().Before(h.cacheExpiry) {
		id := append([]byte(nil), h.cache...)
		h.cacheMutex.RUnlock()
		return id, nil
	}
	h.cacheMutex.RUnlock()

	macAddr, err := h.macAddress()
	if err != nil {
		macAddr = "unknown-mac"
		h.logger.WarnContext(ctx, "Failed to get MAC address, using fallback",
			slog.String("error", err.Error()),
		)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
		h.logger.WarnContext(ctx, "Failed to get hostname, using fallback",
			slog.String("error", err.Error()),
		)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	factors := []string{
		macAddr,
		hostname,
		h.cpuID(),
		runtime.GOOS,
		runtime.GOARCH,
	}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	id := sum[:]

	h.cacheMutex.Lock()
	h.cache = append([]byte(nil), id...)
	h.cacheExpiry = time.Now().Add(h.cacheDuration)
	h.cacheMutex.Unlock()

	h.logger.DebugContext(ctx, "Device id derived from host",
		slog.String("hostname", hostname),
		slog.Int("factors", len(factors)),
	)
	return id, nil
}

// ClearCache forces the next DeviceID call to re-read host factors.
func (h *HostDeviceID) ClearCache() {
	h.cacheMutex.Lock()
	defer h.cacheMutex.Unlock()
	h.cache = nil
	h.cacheExpiry = time.Time{}
}

// macAddress returns the first usable hardware address, preferring
// non-loopback interfaces that are up.
func (h *HostDeviceID) macAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var fallback string
	for _, iface := range interfaces {
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
			return mac, nil
		}
		if fallback == "" {
			fallback = mac
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", errors.New("no valid MAC address found")
}

// cpuID returns a stable processor description for the running OS.
func (h *HostDeviceID) cpuID() string {
	switch runtime.GOOS {
	case "windows":
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return id
		}
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
					return strings.TrimSpace(line)
				}
			}
		}
	}
	return runtime.GOOS + "-" + runtime.GOARCH
}
