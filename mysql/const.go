package mysql

// Client capability flags (protocol 4.1+), the subset this client
// advertises or inspects.
const (
	clientLongPassword     uint32 = 1 << 0
	clientFoundRows        uint32 = 1 << 1
	clientLongFlag         uint32 = 1 << 2
	clientConnectWithDB    uint32 = 1 << 3
	clientCompress         uint32 = 1 << 5
	clientLocalFiles       uint32 = 1 << 7
	clientProtocol41       uint32 = 1 << 9
	clientSSL              uint32 = 1 << 11
	clientTransactions     uint32 = 1 << 13
	clientSecureConnection uint32 = 1 << 15
	clientMultiStatements  uint32 = 1 << 16
	clientMultiResults     uint32 = 1 << 17
	clientPSMultiResults   uint32 = 1 << 18
	clientPluginAuth       uint32 = 1 << 19
	clientDeprecateEOF     uint32 = 1 << 24
)

// Command bytes.
const (
	comQuit  byte = 0x01
	comQuery byte = 0x03
	comPing  byte = 0x0e
)

// Server status flags carried in OK and EOF packets.
const (
	statusInTrans             uint16 = 1 << 0
	statusAutocommit          uint16 = 1 << 1
	statusMoreResultsExists   uint16 = 1 << 3
	statusNoBackslashEscapes  uint16 = 1 << 9
	statusSessionStateChanged uint16 = 1 << 14
)

// Packet header bytes of interest.
const (
	packetOK          byte = 0x00
	packetAuthMore    byte = 0x01
	packetLocalInfile byte = 0xfb
	packetEOF         byte = 0xfe
	packetERR         byte = 0xff
)

// Character set byte sent in the handshake response. utf8mb4 general
// collation; the session character set is adjusted afterwards with
// SET NAMES when client_encoding is configured.
const defaultCollationID byte = 45 // utf8mb4_general_ci

// maxPacketSize is the largest payload of a single protocol packet.
const maxPacketSize = 1<<24 - 1

// defaultAuthPlugin is the authentication method this client speaks.
const defaultAuthPlugin = "mysql_native_password"

// Client-side error codes (MariaDB/MySQL errmsg.h). The server-gone
// pair drives the connection's transition to the Bad state.
const (
	crUnknownError    uint16 = 2000
	crConnHostError   uint16 = 2003
	crServerGoneError uint16 = 2006
	crMalformedPacket uint16 = 2027
	crServerLost      uint16 = 2013
)
