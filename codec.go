package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pyke369/golang-support/rcache"
	"github.com/pyke369/golang-support/uhash"
	"github.com/pyke369/golang-support/ustr"
)

const (
	BOOTREQUEST = 1
	BOOTREPLY   = 2
)

// fixed frame layout (offsets into the wire frame)
const (
	AT_OP      = 0
	AT_HTYPE   = 1
	AT_HLEN    = 2
	AT_HOPS    = 3
	AT_XID     = 4
	AT_SECS    = 8
	AT_FLAGS   = 10
	AT_CIADDR  = 12
	AT_YIADDR  = 16
	AT_SIADDR  = 20
	AT_GIADDR  = 24
	AT_CHADDR  = 28
	AT_SNAME   = 44
	AT_FILE    = 108
	AT_MAGIC   = 236
	AT_OPTIONS = 240

	OPTIONS_SIZE = 2048
	FRAME_MIN    = 300
)

var MAGIC = []byte{0x63, 0x82, 0x53, 0x63}

type FRAME map[string]any

// META carries the side-band information the codec maintains next to the
// JSON representation: it never appears on the wire.
type META struct {
	op     byte
	mtype  byte
	key    [11]byte
	expire time.Time
}

func v4bucket(mtype byte) byte {
	if msgtype := MSGTYPES[mtype]; msgtype != nil {
		return msgtype.bucket
	}
	return mtype
}

func v4addr(value []byte) string {
	return strconv.Itoa(int(value[0])) + "." + strconv.Itoa(int(value[1])) + "." + strconv.Itoa(int(value[2])) + "." + strconv.Itoa(int(value[3]))
}

// v4decode maps one raw DHCP frame to its flat JSON representation. BOOTP
// header fields are only emitted when non-zero, the client hardware address
// always is. The returned META holds the parsed message type, the 11-byte
// correlation key and the pending-request deadline.
func v4decode(packet []byte) (frame FRAME, meta *META, err error) {
	if len(packet) < AT_OPTIONS || !bytes.Equal(packet[AT_MAGIC:AT_MAGIC+4], MAGIC) {
		return nil, nil, errors.New(`truncated frame or invalid magic`)
	}
	if packet[AT_OP] != BOOTREQUEST && packet[AT_OP] != BOOTREPLY {
		return nil, nil, fmt.Errorf(`invalid BOOTP operation 0x%02x`, packet[AT_OP])
	}
	if packet[AT_HTYPE] != 1 || packet[AT_HLEN] != 6 {
		return nil, nil, fmt.Errorf(`invalid hardware address type %d or length %d`, packet[AT_HTYPE], packet[AT_HLEN])
	}
	frame, meta = FRAME{}, &META{op: packet[AT_OP]}
	if packet[AT_HOPS] != 0 {
		frame["bootp-relay-hops"] = int(packet[AT_HOPS])
	}
	if xid := binary.BigEndian.Uint32(packet[AT_XID:]); xid != 0 {
		frame["bootp-transaction-id"] = ustr.HexInt(uint64(xid), 4)
	}
	if secs := binary.BigEndian.Uint16(packet[AT_SECS:]); secs != 0 {
		frame["bootp-start-time"] = int(secs)
	}
	for offset, name := range map[int]string{
		AT_CIADDR: "bootp-client-address",
		AT_YIADDR: "bootp-assigned-address",
		AT_SIADDR: "bootp-server-address",
		AT_GIADDR: "bootp-relay-address",
	} {
		if binary.BigEndian.Uint32(packet[offset:]) != 0 {
			frame[name] = v4addr(packet[offset : offset+4])
		}
	}
	for offset, name := range map[int]string{AT_SNAME: "bootp-server-name", AT_FILE: "bootp-filename"} {
		end := AT_FILE
		if offset == AT_FILE {
			end = AT_MAGIC
		}
		if packet[offset] != 0 {
			value := packet[offset:end]
			if index := bytes.IndexByte(value, 0); index >= 0 {
				value = value[:index]
			}
			frame[name] = string(value)
		}
	}
	frame["client-hardware-address"] = ustr.Hex(packet[AT_CHADDR:AT_CHADDR+6], ':')

	offset := AT_OPTIONS
walk:
	for offset < len(packet) {
		switch packet[offset] {
		case 0:
			offset++

		case 0xff:
			break walk

		default:
			if offset+1 >= len(packet) {
				break walk
			}
			code, size := int(packet[offset]), int(packet[offset+1])
			if offset+2+size > len(packet) {
				break walk
			}
			value := packet[offset+2 : offset+2+size]
			offset += 2 + size
			name, option := ROPTIONS[code], (*OPTION)(nil)
			if name == "" {
				frame[strconv.Itoa(code)] = hex.EncodeToString(value)
				continue
			}
			option = OPTIONS[name]
			if (option.modulo != 0 && size%option.modulo != 0) ||
				(option.min != 0 && size < option.min) ||
				(option.max != 0 && size > option.max) {
				return nil, nil, fmt.Errorf(`invalid length %d for option "%s" (min:%d/max:%d/modulo:%d)`,
					size, name, option.min, option.max, option.modulo)
			}
			step := size
			if option.list() && option.modulo != 0 {
				step = option.modulo
			}
			items := []any{}
			for index := 0; index < size; index += step {
				var item any

				chunk := value[index:]
				switch option.mode & MODE_MASK {
				case MODE_OPAQUE:
					item = hex.EncodeToString(chunk[:step])

				case MODE_BOOLEAN:
					item = chunk[0] != 0

				case MODE_INTEGER:
					width, decoded := min(option.min, 4), 0
					for shift := 0; shift < width; shift++ {
						decoded = decoded<<8 | int(chunk[shift])
					}
					item = decoded

				case MODE_STRING:
					item = string(chunk[:step])

				case MODE_INET4:
					item = v4addr(chunk)

				case MODE_INET4MASK:
					item = v4addr(chunk) + "/" + v4addr(chunk[4:])

				case MODE_OPTION:
					if rname := ROPTIONS[int(chunk[0])]; rname != "" {
						item = rname
					} else {
						item = strconv.Itoa(int(chunk[0]))
					}

				case MODE_MSGTYPE:
					if msgtype := MSGTYPES[chunk[0]]; msgtype == nil {
						return nil, nil, fmt.Errorf(`unknown message type 0x%02x`, chunk[0])
					} else {
						item = msgtype.name
						meta.mtype = chunk[0]
					}
				}
				items = append(items, item)
			}
			if option.list() {
				frame[name] = items
			} else if len(items) != 0 {
				frame[name] = items[0]
			}
		}
	}
	copy(meta.key[:6], packet[AT_CHADDR:])
	copy(meta.key[6:10], packet[AT_XID:])
	meta.key[10] = meta.mtype
	meta.expire = time.Now().Add(10 * time.Second)
	return frame, meta, nil
}

// scan walks the top-level JSON object left to right, invoking emit for each
// key/value pair in document order. Only a flat object of string, number,
// boolean or array-of-those values is accepted; numbers are passed on as
// json.Number, and whether one is integral is checked by v4integer.
func scan(input []byte, emit func(key string, value any) error) error {
	decoder := json.NewDecoder(bytes.NewReader(input))
	decoder.UseNumber()
	if token, err := decoder.Token(); err != nil || token != json.Delim('{') {
		return errors.New(`invalid top-level JSON object`)
	}
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return errors.New(`invalid JSON key definition`)
		}
		key, ok := token.(string)
		if !ok {
			return errors.New(`invalid JSON key definition`)
		}
		var value any

		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf(`invalid JSON value for key "%s"`, key)
		}
		switch value.(type) {
		case string, json.Number, bool:

		case []any:
			for _, item := range value.([]any) {
				switch item.(type) {
				case string, json.Number, bool:

				default:
					return fmt.Errorf(`invalid JSON list item for key "%s"`, key)
				}
			}

		default:
			return fmt.Errorf(`invalid JSON value for key "%s"`, key)
		}
		if err := emit(key, value); err != nil {
			return err
		}
	}
	if token, err := decoder.Token(); err != nil || token != json.Delim('}') {
		return errors.New(`invalid top-level JSON object`)
	}
	return nil
}

func v4integer(item any) (int, error) {
	number, ok := item.(json.Number)
	if !ok {
		return 0, errors.New(`not an integer`)
	}
	value, err := strconv.ParseInt(number.String(), 10, 64)
	if err != nil {
		return 0, errors.New(`not an integer`)
	}
	return int(value), nil
}

// v4encode maps one flat JSON object to a raw DHCP frame. Duplicate options
// after the first are silently ignored, a missing transaction id is filled
// with a fresh random value, and the frame is padded to the BOOTP minimum of
// 300 bytes. The returned META key is computed with the request-bucket rule
// so that replies correlate with the request they answer.
func v4encode(input []byte) (packet []byte, meta *META, err error) {
	packet, meta = make([]byte, AT_OPTIONS, AT_OPTIONS+OPTIONS_SIZE), &META{}
	packet[AT_HTYPE], packet[AT_HLEN] = 1, 6
	copy(packet[AT_MAGIC:], MAGIC)
	options, used := []byte{}, map[int]bool{}

	err = scan(input, func(key string, value any) error {
		name, option := lookup(key)
		if option == nil {
			return fmt.Errorf(`invalid option "%s"`, key)
		}
		items := []any{value}
		if lvalue, ok := value.([]any); ok {
			if !option.list() {
				return fmt.Errorf(`values list not supported for option "%s"`, name)
			}
			items = lvalue
		}
		if used[option.code] {
			return nil
		}
		used[option.code] = true

		payload := []byte{}
		for _, item := range items {
			switch option.mode & MODE_MASK {
			case MODE_OPAQUE:
				text, ok := item.(string)
				if !ok {
					return fmt.Errorf(`invalid value type for option "%s" (should be a string)`, name)
				}
				switch option.code {
				case FIELD_CHADDR:
					if !rcache.Get(`^([0-9a-f]{2}:){5}[0-9a-f]{2}$`).MatchString(text) {
						return fmt.Errorf(`invalid hardware address "%s"`, text)
					}
					hex.Decode(packet[AT_CHADDR:], []byte(strings.ReplaceAll(text, ":", "")))

				case FIELD_XID:
					if !rcache.Get(`^[0-9a-f]{8}$`).MatchString(text) {
						return fmt.Errorf(`invalid transaction id "%s"`, text)
					}
					hex.Decode(packet[AT_XID:], []byte(text))

				default:
					if len(text) == 0 || len(text)%2 != 0 || !rcache.Get(`^([0-9a-f]{2})+$`).MatchString(text) {
						return fmt.Errorf(`invalid hexstring format "%v" for option "%s"`, item, name)
					}
					decoded, _ := hex.DecodeString(text)
					payload = append(payload, decoded...)
				}

			case MODE_BOOLEAN:
				flag, ok := item.(bool)
				if !ok {
					return fmt.Errorf(`invalid value type for option "%s" (should be a boolean)`, name)
				}
				if flag {
					payload = append(payload, 1)
				} else {
					payload = append(payload, 0)
				}

			case MODE_INTEGER:
				decoded, cerr := v4integer(item)
				if cerr != nil {
					return fmt.Errorf(`invalid value type for option "%s" (should be an integer)`, name)
				}
				switch option.code {
				case FIELD_RELAYHOPS:
					packet[AT_HOPS] = byte(decoded)

				case FIELD_SECS:
					binary.BigEndian.PutUint16(packet[AT_SECS:], uint16(decoded))

				default:
					for shift := option.min - 1; shift >= 0; shift-- {
						payload = append(payload, byte(decoded>>(8*shift)))
					}
				}

			case MODE_STRING:
				text, ok := item.(string)
				if !ok || text == "" {
					return fmt.Errorf(`invalid value type for option "%s" (should be a string)`, name)
				}
				switch option.code {
				case FIELD_SNAME:
					copy(packet[AT_SNAME:AT_FILE-1], text)

				case FIELD_FILE:
					copy(packet[AT_FILE:AT_MAGIC-1], text)

				default:
					payload = append(payload, text...)
				}

			case MODE_INET4:
				text, ok := item.(string)
				if !ok {
					return fmt.Errorf(`invalid value type for option "%s" (should be a string)`, name)
				}
				address := net.ParseIP(text)
				if address == nil || address.To4() == nil {
					return fmt.Errorf(`invalid IPv4 address "%s" for option "%s"`, text, name)
				}
				switch option.code {
				case FIELD_CIADDR:
					copy(packet[AT_CIADDR:], address.To4())

				case FIELD_YIADDR:
					copy(packet[AT_YIADDR:], address.To4())

				case FIELD_SIADDR:
					copy(packet[AT_SIADDR:], address.To4())

				case FIELD_GIADDR:
					copy(packet[AT_GIADDR:], address.To4())

				default:
					payload = append(payload, address.To4()...)
				}

			case MODE_INET4MASK:
				text, ok := item.(string)
				if !ok {
					return fmt.Errorf(`invalid value type for option "%s" (should be a string)`, name)
				}
				parts := strings.Split(text, "/")
				if len(parts) != 2 {
					return fmt.Errorf(`invalid address/netmask format "%s" for option "%s"`, text, name)
				}
				for _, part := range parts {
					address := net.ParseIP(part)
					if address == nil || address.To4() == nil {
						return fmt.Errorf(`invalid IPv4 address "%s" for option "%s"`, part, name)
					}
					payload = append(payload, address.To4()...)
				}

			case MODE_OPTION:
				text, ok := item.(string)
				if !ok {
					return fmt.Errorf(`invalid value type for option "%s" (should be a string)`, name)
				}
				if _, reference := lookup(text); reference != nil && !reference.header() {
					payload = append(payload, byte(reference.code))
				} else {
					return fmt.Errorf(`unknown option "%s" in option "%s"`, text, name)
				}

			case MODE_MSGTYPE:
				text, ok := item.(string)
				if !ok {
					return fmt.Errorf(`invalid value type for option "%s" (should be a string)`, name)
				}
				mtype := RMSGTYPES[strings.ToLower(text)]
				if mtype == 0 {
					return fmt.Errorf(`unknown message type "%s"`, text)
				}
				meta.mtype = mtype
				payload = append(payload, mtype)
			}
		}
		if option.header() {
			return nil
		}
		if (option.min != 0 && len(payload) < option.min) || (option.max != 0 && len(payload) > option.max) || len(payload) > 255 {
			return fmt.Errorf(`out-of-bounds size %d for option "%s"`, len(payload), name)
		}
		if len(options)+2+len(payload) > OPTIONS_SIZE-1 {
			return fmt.Errorf(`not enough space to store option "%s"`, name)
		}
		options = append(options, byte(option.code), byte(len(payload)))
		options = append(options, payload...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if meta.mtype == 0 {
		return nil, nil, errors.New(`undefined message type`)
	}
	if bytes.Equal(packet[AT_CHADDR:AT_CHADDR+6], make([]byte, 6)) {
		return nil, nil, errors.New(`undefined client hardware address`)
	}
	if binary.BigEndian.Uint32(packet[AT_XID:]) == 0 {
		binary.BigEndian.PutUint32(packet[AT_XID:], uint32(uhash.Rand(1<<32-1)))
	}
	options = append(options, 0xff)
	packet = append(packet, options...)
	for len(packet) < FRAME_MIN {
		packet = append(packet, 0)
	}
	packet[AT_OP] = MSGTYPES[meta.mtype].opcode
	meta.op = packet[AT_OP]
	copy(meta.key[:6], packet[AT_CHADDR:])
	copy(meta.key[6:10], packet[AT_XID:])
	meta.key[10] = v4bucket(meta.mtype)
	meta.expire = time.Now().Add(10 * time.Second)
	return packet, meta, nil
}
