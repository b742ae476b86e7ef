package udp

const defaultUDPPayloadSize = 1474

// MaxPayloadSize is the largest payload a UDP datagram over IPv4 can carry.
const MaxPayloadSize = 65_507

type Config struct {
	IPAddr string
	Port   uint16

	// PayloadSize is the largest datagram staged, capped to MaxPayloadSize.
	// Longer datagrams are dropped.
	PayloadSize int
}

func NewDefaultConfig() *Config {
	return &Config{
		IPAddr: "127.0.0.1",
		Port:   20_000,

		PayloadSize: defaultUDPPayloadSize,
	}
}
