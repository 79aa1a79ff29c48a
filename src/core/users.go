package main

import (
	"crypto"
	"errors"
	"fmt"
	"sync"

	"github.com/exchangenetwork/xnet/src/xnet"
)

var (
	ErrUnknownUser    = errors.New("no user associated with key")
	ErrUnknownAddress = errors.New("user address not known")
	ErrDuplicateUser  = errors.New("user already registered")
)

// PeerAddress is where the node acting for a user can be reached.
type PeerAddress struct {
	Host string
	Port int
}

// UserDirectory holds the known users. Public keys and addresses live in side
// tables keyed by user key, so the User records can be shared freely.
type UserDirectory struct {
	mu         sync.RWMutex
	users      []User
	publicKeys map[xnet.ID]crypto.PublicKey
	addresses  map[xnet.ID]PeerAddress
	events     *EventHub
}

// NewUserDirectory creates an empty directory.
func NewUserDirectory(events *EventHub) *UserDirectory {
	return &UserDirectory{
		publicKeys: make(map[xnet.ID]crypto.PublicKey),
		addresses:  make(map[xnet.ID]PeerAddress),
		events:     events,
	}
}

// Register adds a user with its public key. A port below 1 means the address is unknown.
func (d *UserDirectory) Register(user User, publicKey crypto.PublicKey, host string, port int) error {
	if user.Key == "" {
		return fmt.Errorf("user %q has no key", user.Name)
	}

	d.mu.Lock()
	for _, u := range d.users {
		if u.Key == user.Key {
			d.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateUser, user.Key)
		}
	}
	d.users = append(d.users, user)
	d.publicKeys[user.Key] = publicKey
	if port > 0 {
		if host == "" {
			host = "localhost"
		}
		d.addresses[user.Key] = PeerAddress{Host: host, Port: port}
	}
	count := len(d.users)
	d.mu.Unlock()

	knownUsersGauge.Set(float64(count))
	d.events.Publish(Event{Collection: "users", Action: ActionInsert, Item: user})
	logger.Info("Registered user", "key", user.Key, "name", user.Name)
	return nil
}

// SetAddress records or replaces where a user's node can be reached.
func (d *UserDirectory) SetAddress(key xnet.ID, host string, port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.publicKeys[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, key)
	}
	d.addresses[key] = PeerAddress{Host: host, Port: port}
	return nil
}

// Deregister removes a user and its side table entries.
func (d *UserDirectory) Deregister(key xnet.ID) bool {
	d.mu.Lock()
	index := -1
	for i, u := range d.users {
		if u.Key == key {
			index = i
			break
		}
	}
	if index < 0 {
		d.mu.Unlock()
		return false
	}
	removed := d.users[index]
	d.users = append(d.users[:index], d.users[index+1:]...)
	delete(d.publicKeys, key)
	delete(d.addresses, key)
	count := len(d.users)
	d.mu.Unlock()

	knownUsersGauge.Set(float64(count))
	d.events.Publish(Event{Collection: "users", Action: ActionRemove, Item: removed})
	return true
}

// GetByKey looks a user up by key id.
func (d *UserDirectory) GetByKey(key xnet.ID) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, u := range d.users {
		if u.Key == key {
			return u, true
		}
	}
	return User{}, false
}

// AddressOf returns where the node acting for key can be reached.
func (d *UserDirectory) AddressOf(key xnet.ID) (PeerAddress, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.publicKeys[key]; !ok {
		return PeerAddress{}, fmt.Errorf("%w: %s", ErrUnknownUser, key)
	}
	addr, ok := d.addresses[key]
	if !ok {
		return PeerAddress{}, fmt.Errorf("%w: %s", ErrUnknownAddress, key)
	}
	return addr, nil
}

// PublicKeyOf returns the public key registered for key.
func (d *UserDirectory) PublicKeyOf(key xnet.ID) (crypto.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pub, ok := d.publicKeys[key]
	return pub, ok && pub != nil
}

// List returns a copy of all known users.
func (d *UserDirectory) List() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

// Identity is the user this node acts for and the key it signs with. The
// private key never leaves this struct.
type Identity struct {
	user   User
	signer crypto.Signer
}

// NewIdentity binds a user to its signing key.
func NewIdentity(user User, signer crypto.Signer) (*Identity, error) {
	if signer == nil {
		return nil, fmt.Errorf("no private key exists for user %s", user.Key)
	}
	if user.KeyAlgorithm == "" {
		user.KeyAlgorithm = KeyAlgorithmOf(signer.Public())
	}
	return &Identity{user: user, signer: signer}, nil
}

// User returns the primary user of the node.
func (id *Identity) User() User {
	return id.user
}

// Sign signs the canonical form of v with the identity's key.
func (id *Identity) Sign(v any, algorithm string) (*xnet.Signature, error) {
	return SignCanonical(id.signer, v, algorithm)
}

// PublicKey returns the public half of the signing key.
func (id *Identity) PublicKey() crypto.PublicKey {
	return id.signer.Public()
}
