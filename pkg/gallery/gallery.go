// Package gallery builds and caches the known-identity gallery.
// Reference descriptors are computed once from a directory of student
// images and cached at rest, encrypted with NaCl secretbox using a
// machine-derived key.
package gallery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facemark/pkg/logging"
	"github.com/MrCodeEU/facemark/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrNoImagesDir is returned when the images directory does not exist.
var ErrNoImagesDir = errors.New("images directory not found")

// imageExtensions are the file types the builder considers.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// FileDetector is the slice of the recognizer the builder needs.
// *recognition.DlibRecognizer satisfies it.
type FileDetector interface {
	DetectFacesInFile(path string) ([]recognition.Face, error)
}

// Gallery manages the set of known identities.
type Gallery struct {
	imagesDir         string
	cachePath         string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// New creates a Gallery over the given images directory and cache file.
func New(imagesDir, cachePath string, encryptionEnabled bool) (*Gallery, error) {
	g := &Gallery{
		imagesDir:         imagesDir,
		cachePath:         cachePath,
		encryptionEnabled: encryptionEnabled,
	}

	// Derive encryption key from machine-specific information
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		g.encryptionKey = key
	}

	return g, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the cached descriptors to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	// Combine multiple sources of machine identity
	var identity strings.Builder

	// Machine ID (Linux specific)
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	// Hostname
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	// User ID
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))

	// Add a constant salt for additional security
	identity.WriteString("facemark-v1-salt")

	// Hash to derive key
	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

// Load returns the gallery, preferring the descriptor cache and falling
// back to a full build from the images directory. A missing or
// undecryptable cache is not fatal; it just forces a rebuild. An empty
// gallery is valid and simply never recognizes anyone.
func (g *Gallery) Load(detector FileDetector) ([]recognition.KnownIdentity, error) {
	known, err := g.loadCache()
	if err == nil {
		logging.Infof("Loaded %d known identit(ies) from cache", len(known))
		return known, nil
	}
	if !os.IsNotExist(err) {
		logging.WithError(err).Warn("Descriptor cache unreadable, rebuilding")
	}

	return g.Rebuild(detector)
}

// Rebuild computes descriptors from the images directory and refreshes
// the cache.
func (g *Gallery) Rebuild(detector FileDetector) ([]recognition.KnownIdentity, error) {
	known, err := g.build(detector)
	if err != nil {
		return nil, err
	}

	if err := g.saveCache(known); err != nil {
		// A stale cache is worse than no cache; the build itself
		// succeeded, so keep going.
		logging.WithError(err).Warn("Failed to write descriptor cache")
	}

	logging.Infof("Built gallery with %d known identit(ies)", len(known))
	return known, nil
}

// build walks the images directory. Each subdirectory is one identity
// holding any number of reference photos; loose image files at the top
// level are identities named after the file stem. Images where no face
// is found are skipped with a warning.
func (g *Gallery) build(detector FileDetector) ([]recognition.KnownIdentity, error) {
	entries, err := os.ReadDir(g.imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoImagesDir, g.imagesDir)
		}
		return nil, fmt.Errorf("failed to read images directory: %w", err)
	}

	var known []recognition.KnownIdentity
	for _, entry := range entries {
		if entry.IsDir() {
			name := identityName(entry.Name())
			dir := filepath.Join(g.imagesDir, entry.Name())
			descriptors, err := g.descriptorsFromDir(detector, dir)
			if err != nil {
				return nil, err
			}
			for _, d := range descriptors {
				known = append(known, recognition.KnownIdentity{Name: name, Descriptor: d})
			}
			continue
		}

		if !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(g.imagesDir, entry.Name())
		d, ok, err := g.descriptorFromFile(detector, path)
		if err != nil {
			return nil, err
		}
		if ok {
			name := identityName(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
			known = append(known, recognition.KnownIdentity{Name: name, Descriptor: d})
		}
	}

	return known, nil
}

func (g *Gallery) descriptorsFromDir(detector FileDetector, dir string) ([]recognition.Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity directory: %w", err)
	}

	var out []recognition.Descriptor
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		d, ok, err := g.descriptorFromFile(detector, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// descriptorFromFile returns the descriptor of the first face in an
// image. ok is false when the image holds no face.
func (g *Gallery) descriptorFromFile(detector FileDetector, path string) (recognition.Descriptor, bool, error) {
	faces, err := detector.DetectFacesInFile(path)
	if err != nil {
		return recognition.Descriptor{}, false, err
	}
	if len(faces) == 0 {
		logging.Warnf("No face found in reference image, skipping: %s", path)
		return recognition.Descriptor{}, false, nil
	}
	if len(faces) > 1 {
		logging.Warnf("Multiple faces in reference image, using the first: %s", path)
	}
	return faces[0].Descriptor, true, nil
}

// identityName normalizes a directory or file stem into the display
// name recorded on the attendance sheet.
func identityName(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// loadCache reads and decodes the descriptor cache.
func (g *Gallery) loadCache() ([]recognition.KnownIdentity, error) {
	data, err := os.ReadFile(g.cachePath)
	if err != nil {
		return nil, err
	}

	if g.encryptionEnabled {
		data, err = g.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt cache: %w", err)
		}
	}

	var known []recognition.KnownIdentity
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache: %w", err)
	}
	return known, nil
}

// saveCache encodes and writes the descriptor cache.
func (g *Gallery) saveCache(known []recognition.KnownIdentity) error {
	data, err := json.Marshal(known)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if g.encryptionEnabled {
		data, err = g.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt cache: %w", err)
		}
	}

	if dir := filepath.Dir(g.cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	if err := os.WriteFile(g.cachePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (g *Gallery) encrypt(plaintext []byte) ([]byte, error) {
	// Generate random nonce
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	// Encrypt
	encrypted := secretbox.Seal(nonce[:], plaintext, &nonce, &g.encryptionKey)
	return encrypted, nil
}

// decrypt decrypts data using NaCl secretbox.
func (g *Gallery) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	// Extract nonce
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	// Decrypt
	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &g.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
