// Package session implements the authenticated client<->relay
// handshakes (login and registration) and the inbound packet
// dispatch loop, grounded on the reference session handshake.
package session

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/lukwies/libretro/internal/friend"
	"github.com/lukwies/libretro/internal/identkeys"
	"github.com/lukwies/libretro/internal/msghandler"
	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/protocol"
	"github.com/lukwies/libretro/internal/retroerr"
	"github.com/lukwies/libretro/internal/retrocrypto"
)

// RegKeySize is the size of the one-shot registration token carried
// in T_REGISTER.
const RegKeySize = 32

// helloNonceSize is the size of the random challenge signed at login.
const helloNonceSize = 32

// Login performs the T_HELLO/T_SUCCESS handshake for an existing
// account identified by userID: it proves control of the account's
// private key by signing a fresh random nonce.
func Login(conn *netconn.Conn, userID uint64, priv *identkeys.PrivateKey) error {
	nonce, err := retrocrypto.Random(helloNonceSize)
	if err != nil {
		return fmt.Errorf("session: generate hello nonce: %w", err)
	}
	sig := priv.Sign(nonce)

	payload := make([]byte, 0, 8+len(nonce)+len(sig))
	payload = append(payload, u64Bytes(userID)...)
	payload = append(payload, nonce...)
	payload = append(payload, sig...)

	if err := conn.SendPacket(protocol.THello, payload); err != nil {
		return fmt.Errorf("session: send hello: %w", err)
	}
	pkt, err := conn.RecvPacket()
	if err != nil {
		return fmt.Errorf("session: recv hello response: %w", err)
	}
	return checkSuccessOrError(pkt, "session: login")
}

// Register performs the T_REGISTER/T_PUBKEY handshake for a fresh
// account: send the one-shot registration token, receive the
// server-assigned user ID, then publish our public identity key.
func Register(conn *netconn.Conn, regKey []byte, pub identkeys.PublicKey) (userID uint64, err error) {
	if len(regKey) != RegKeySize {
		return 0, fmt.Errorf("session: regkey must be %d bytes", RegKeySize)
	}

	if err := conn.SendPacket(protocol.TRegister, regKey); err != nil {
		return 0, fmt.Errorf("session: send register: %w", err)
	}
	pkt, err := conn.RecvPacket()
	if err != nil {
		return 0, fmt.Errorf("session: recv register response: %w", err)
	}
	if pkt.Type != protocol.TSuccess {
		return 0, serverErrorFrom(pkt)
	}
	if len(pkt.Payload) != 8 {
		return 0, fmt.Errorf("session: malformed user id in register response: %w", retroerr.ErrMalformedHeader)
	}
	userID = binary.BigEndian.Uint64(pkt.Payload)

	if err := conn.SendPacket(protocol.TPubkey, pub.EncodePublicPEM()); err != nil {
		return 0, fmt.Errorf("session: send pubkey: %w", err)
	}
	pkt, err = conn.RecvPacket()
	if err != nil {
		return 0, fmt.Errorf("session: recv pubkey response: %w", err)
	}
	if err := checkSuccessOrError(pkt, "session: register pubkey"); err != nil {
		return 0, err
	}
	return userID, nil
}

// GetPubkey fetches a peer's public identity key by user ID via
// T_GET_PUBKEY/T_PUBKEY.
func GetPubkey(conn *netconn.Conn, userID uint64) (identkeys.PublicKey, error) {
	if err := conn.SendPacket(protocol.TGetPubkey, u64Bytes(userID)); err != nil {
		return identkeys.PublicKey{}, fmt.Errorf("session: send get_pubkey: %w", err)
	}
	pkt, err := conn.RecvPacket()
	if err != nil {
		return identkeys.PublicKey{}, fmt.Errorf("session: recv pubkey: %w", err)
	}
	if pkt.Type == protocol.TError {
		return identkeys.PublicKey{}, serverErrorFrom(pkt)
	}
	if pkt.Type != protocol.TPubkey {
		return identkeys.PublicKey{}, fmt.Errorf("session: unexpected packet type %d for get_pubkey", pkt.Type)
	}
	return identkeys.ParsePublicPEM(pkt.Payload)
}

// Goodbye sends T_GOODBYE to cleanly end the session.
func Goodbye(conn *netconn.Conn) error {
	return conn.SendPacket(protocol.TGoodbye, nil)
}

// Dispatcher routes inbound packets once a session is established:
// chat/file messages go to OnMessage, and T_FRIEND_ONLINE/OFFLINE/UNKNOWN
// packets update the friend's stored status. A T_FRIENDS roster packet
// is split into user IDs but changes no stored state.
type Dispatcher struct {
	Friends   *friend.Store
	OnMessage func(env *msghandler.Envelope, isFile bool)
}

// Run reads packets from conn until it errors or the peer sends
// T_GOODBYE, dispatching each to the appropriate handler.
func (d *Dispatcher) Run(conn *netconn.Conn) error {
	for {
		pkt, err := conn.RecvPacket()
		if err != nil {
			return err
		}
		switch pkt.Type {
		case protocol.TGoodbye:
			return nil
		case protocol.TChatMsg:
			d.handleEnvelope(pkt.Payload, false)
		case protocol.TFileMsg:
			d.handleEnvelope(pkt.Payload, true)
		case protocol.TFriends:
			d.handleFriends(pkt.Payload)
		case protocol.TFriendOnline:
			d.setStatusFromPayload(pkt.Payload, friend.StatusOnline)
		case protocol.TFriendOffline:
			d.setStatusFromPayload(pkt.Payload, friend.StatusOffline)
		case protocol.TFriendUnknown:
			d.setStatusFromPayload(pkt.Payload, friend.StatusUnknown)
		default:
			slog.Warn("session: unhandled packet type", "type", pkt.Type)
		}
	}
}

func (d *Dispatcher) handleEnvelope(payload []byte, isFile bool) {
	env, err := msghandler.DecodeEnvelope(payload)
	if err != nil {
		slog.Warn("session: dropping malformed envelope", "err", err)
		return
	}
	if d.OnMessage != nil {
		d.OnMessage(env, isFile)
	}
}

func (d *Dispatcher) handleFriends(payload []byte) {
	ids, err := protocol.UnpackList(payload, 8)
	if err != nil {
		slog.Warn("session: malformed friends packet", "err", err)
		return
	}
	for _, id := range ids {
		_ = binary.BigEndian.Uint64(id) // roster entry; presence arrives separately via T_FRIEND_*
	}
}

func (d *Dispatcher) setStatusFromPayload(payload []byte, status friend.Status) {
	if len(payload) != 8 || d.Friends == nil {
		return
	}
	userID := binary.BigEndian.Uint64(payload)
	if err := d.Friends.SetStatus(userID, status); err != nil {
		slog.Warn("session: failed to update friend status", "user_id", userID, "err", err)
	}
}

func checkSuccessOrError(pkt protocol.Packet, context string) error {
	switch pkt.Type {
	case protocol.TSuccess:
		return nil
	case protocol.TError:
		return fmt.Errorf("%s: %w", context, serverErrorFrom(pkt))
	default:
		return fmt.Errorf("%s: unexpected packet type %d: %w", context, pkt.Type, retroerr.ErrBadHandshake)
	}
}

func serverErrorFrom(pkt protocol.Packet) error {
	return retroerr.NewServerError(string(pkt.Payload))
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
