// Package hostlink implements the host link (D4): a libp2p stream
// protocol standing in for the real PCIe submission/completion-queue
// transport, so cmd/inos-devicesim can demonstrate the full launch
// lifecycle over a real (loopback) network connection.
package hostlink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

// ProtocolID is the libp2p stream protocol the device registers.
const ProtocolID = "/inos-kernel-launch/1.0.0"

// FrameKind identifies the payload carried by a Frame.
type FrameKind uint8

const (
	FrameKernelLaunch FrameKind = iota
	FrameKernelAbort
	FrameKernelComplete
	FrameKernelException
	FrameSetLogLevel
)

// Frame is the unit exchanged over one hostlink stream: a 4-byte
// big-endian length prefix, a 1-byte kind, then the payload.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// WriteFrame writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	length := uint32(1 + len(f.Payload))
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, length)
	if _, err := w.Write(header); err != nil {
		return err
	}
	body := make([]byte, length)
	body[0] = byte(f.Kind)
	copy(body[1:], f.Payload)
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return Frame{}, fmt.Errorf("hostlink: empty frame")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameKind(body[0]), Payload: body[1:]}, nil
}

const identityFile = "devicesim_identity.json"

type persistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

func loadOrGenerateIdentity() (crypto.PrivKey, error) {
	if data, err := os.ReadFile(identityFile); err == nil {
		var id persistentIdentity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, err
		}
		return crypto.UnmarshalPrivateKey(id.PrivKey)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(persistentIdentity{PrivKey: privBytes, PeerID: pid.String()})
	if err != nil {
		return nil, err
	}
	_ = os.WriteFile(identityFile, data, 0o600)
	return priv, nil
}

// Server is the device-side host link endpoint: one libp2p host with the
// launch protocol's stream handler registered.
type Server struct {
	host   libp2phost.Host
	logger *utils.Logger
}

// NewServer starts a libp2p host bound to listenAddr (a multiaddr string;
// empty leaves libp2p's default listen addresses in place) with a
// persistent Ed25519 identity, and registers the protocol handler. handle
// is invoked once per inbound frame and returns the frame to write back
// with true, or false for no response.
func NewServer(listenAddr string, logger *utils.Logger, handle func(Frame) (Frame, bool)) (*Server, error) {
	priv, err := loadOrGenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("hostlink: load identity: %w", err)
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	if listenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddr))
	}

	host, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("hostlink: start libp2p host: %w", err)
	}

	s := &Server{host: host, logger: logger}

	host.SetStreamHandler(ProtocolID, func(stream network.Stream) {
		defer stream.Close()
		frame, err := ReadFrame(stream)
		if err != nil {
			logger.Error("hostlink: read frame failed", utils.Err(err))
			return
		}
		if resp, ok := handle(frame); ok {
			if err := WriteFrame(stream, resp); err != nil {
				logger.Error("hostlink: write response failed", utils.Err(err))
			}
		}
	})

	logger.Info("hostlink server started", utils.String("peerID", host.ID().String()))
	return s, nil
}

// Addrs returns the host's listen multiaddresses.
func (s *Server) Addrs() []ma.Multiaddr { return s.host.Addrs() }

// ID returns the server's peer ID.
func (s *Server) ID() peer.ID { return s.host.ID() }

// Close shuts down the libp2p host.
func (s *Server) Close() error { return s.host.Close() }

// Client is the host-side (demo) endpoint that dials a Server and sends
// frames.
type Client struct {
	host libp2phost.Host
}

// NewClient starts an ephemeral libp2p host for dialing a device.
func NewClient() (*Client, error) {
	host, err := libp2p.New()
	if err != nil {
		return nil, err
	}
	return &Client{host: host}, nil
}

// Send dials peerAddr (a full multiaddr including /p2p/<id>), writes
// frame, and returns the response frame.
func (c *Client) Send(ctx context.Context, peerAddr string, frame Frame) (Frame, error) {
	maddr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return Frame{}, err
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return Frame{}, err
	}

	if err := c.host.Connect(ctx, *info); err != nil {
		return Frame{}, err
	}
	stream, err := c.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return Frame{}, err
	}
	defer stream.Close()

	if err := WriteFrame(stream, frame); err != nil {
		return Frame{}, err
	}
	return ReadFrame(stream)
}

// Close shuts down the client's libp2p host.
func (c *Client) Close() error { return c.host.Close() }
