package periph

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/sarchlab/firmhook/bus"
)

// EthernetName is the bus name of the Ethernet model.
const EthernetName = "EthernetModel"

// A Frame is a received Ethernet frame.
type Frame struct {
	Data []byte
	At   time.Time
}

type ethInterface struct {
	enabled bool
	irq     int
	hasIRQ  bool
	rx      []Frame
}

// Ethernet models network interfaces that exchange raw frames with
// external devices.
type Ethernet struct {
	sender bus.Sender
	irq    *Interrupts
	logger *slog.Logger

	lock       sync.Mutex
	interfaces map[uint64]*ethInterface
}

// NewEthernet creates the model. irq may be nil when no interface raises
// interrupts.
func NewEthernet(sender bus.Sender, irq *Interrupts, logger *slog.Logger) *Ethernet {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ethernet{
		sender:     sender,
		irq:        irq,
		logger:     logger,
		interfaces: make(map[uint64]*ethInterface),
	}
}

// Name returns the bus name of the model.
func (e *Ethernet) Name() string {
	return EthernetName
}

// Receivers declares the messages the model accepts.
func (e *Ethernet) Receivers() map[string]bus.Receiver {
	return map[string]bus.Receiver{
		"rx_frame": e.rxFrame,
	}
}

// AddInterface adds an enabled interface. A negative irq means received
// frames raise no interrupt.
func (e *Ethernet) AddInterface(id uint64, irq int) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.interfaces[id] = &ethInterface{
		enabled: true,
		irq:     irq,
		hasIRQ:  irq >= 0,
	}
}

func (e *Ethernet) iface(id uint64) (*ethInterface, error) {
	i, ok := e.interfaces[id]
	if !ok {
		return nil, fmt.Errorf("no ethernet interface %d", id)
	}

	return i, nil
}

// SetEnabled enables or disables an interface. Disabled interfaces drop
// received frames.
func (e *Ethernet) SetEnabled(id uint64, enabled bool) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	i, err := e.iface(id)
	if err != nil {
		return err
	}

	i.enabled = enabled

	return nil
}

// Flush drops the queued frames of an interface.
func (e *Ethernet) Flush(id uint64) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	i, err := e.iface(id)
	if err != nil {
		return err
	}

	i.rx = nil

	return nil
}

// TxFrame publishes a frame the firmware sent.
func (e *Ethernet) TxFrame(id uint64, frame []byte) error {
	e.logger.Info("sending frame",
		"interface", id, "len", len(frame), "frame", Summarize(frame).String())

	return e.sender.Send(EthernetName, "tx_frame", bus.Payload{
		"interface_id": id,
		"frame":        string(frame),
	})
}

func (e *Ethernet) rxFrame(msg bus.Message) error {
	id, err := msg.Payload.Uint("interface_id")
	if err != nil {
		return err
	}

	data, err := msg.Payload.Bytes("frame")
	if err != nil {
		return err
	}

	e.lock.Lock()
	i, err := e.iface(id)
	if err != nil {
		e.lock.Unlock()
		return err
	}

	if !i.enabled {
		e.lock.Unlock()
		return nil
	}

	i.rx = append(i.rx, Frame{Data: data, At: time.Now()})
	raise := i.hasIRQ && e.irq != nil
	irq := i.irq
	e.lock.Unlock()

	e.logger.Info("adding frame",
		"interface", id, "len", len(data), "frame", Summarize(data).String())

	if raise {
		return e.irq.SetActive(irq)
	}

	return nil
}

// RxFrame takes the oldest received frame of an interface.
func (e *Ethernet) RxFrame(id uint64) (Frame, bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	i, err := e.iface(id)
	if err != nil {
		return Frame{}, false, err
	}

	if len(i.rx) == 0 {
		return Frame{}, false, nil
	}

	f := i.rx[0]
	i.rx = i.rx[1:]

	return f, true, nil
}

// FrameInfo returns the number of queued frames and the length of the
// oldest one.
func (e *Ethernet) FrameInfo(id uint64) (count, firstLen int, err error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	i, err := e.iface(id)
	if err != nil {
		return 0, 0, err
	}

	if len(i.rx) == 0 {
		return 0, 0, nil
	}

	return len(i.rx), len(i.rx[0].Data), nil
}

// Interfaces returns the interface IDs in order.
func (e *Ethernet) Interfaces() []uint64 {
	e.lock.Lock()
	defer e.lock.Unlock()

	ids := make([]uint64, 0, len(e.interfaces))
	for id := range e.interfaces {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	return ids
}

// A FrameSummary is what the logs show about a frame.
type FrameSummary struct {
	SrcMAC, DstMAC   net.HardwareAddr
	EtherType        layers.EthernetType
	SrcIP, DstIP     net.IP
	Protocol         string
	SrcPort, DstPort uint16
}

// Summarize decodes the headers of an Ethernet frame. Undecodable layers
// are left out.
func Summarize(frame []byte) FrameSummary {
	var s FrameSummary

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	for _, l := range pkt.Layers() {
		switch l := l.(type) {
		case *layers.Ethernet:
			s.SrcMAC = l.SrcMAC
			s.DstMAC = l.DstMAC
			s.EtherType = l.EthernetType
		case *layers.IPv4:
			s.SrcIP, s.DstIP = l.SrcIP, l.DstIP
		case *layers.IPv6:
			s.SrcIP, s.DstIP = l.SrcIP, l.DstIP
		case *layers.ARP:
			s.Protocol = "ARP"
		case *layers.TCP:
			s.Protocol = "TCP"
			s.SrcPort, s.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
		case *layers.UDP:
			s.Protocol = "UDP"
			s.SrcPort, s.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
		case *layers.ICMPv4, *layers.ICMPv6:
			s.Protocol = "ICMP"
		}
	}

	return s
}

func (s FrameSummary) String() string {
	if s.SrcMAC == nil {
		return "not ethernet"
	}

	out := fmt.Sprintf("%s > %s %s", s.SrcMAC, s.DstMAC, s.EtherType)
	if s.SrcIP != nil {
		out += fmt.Sprintf(" %s > %s", s.SrcIP, s.DstIP)
	}

	if s.Protocol != "" {
		out += " " + s.Protocol
	}

	if s.SrcPort != 0 || s.DstPort != 0 {
		out += fmt.Sprintf(" %d > %d", s.SrcPort, s.DstPort)
	}

	return out
}
