package inspect

import "encoding/binary"

// parseTLSClientHelloSNI walks a single TLS record (record header,
// handshake header, ClientHello body, extension list) looking for the
// server_name extension's host_name entry. It returns ok=false for
// anything it can't confidently parse — callers fall back to treating
// the connection as unidentified or plain HTTP rather than erroring,
// since a partial read of a legitimate ClientHello looks identical to
// garbage input at this layer.
func parseTLSClientHelloSNI(buf []byte) (string, bool) {
	if len(buf) < 9 || buf[0] != tlsRecordHandshake {
		return "", false
	}

	recordLen := int(binary.BigEndian.Uint16(buf[3:5]))
	body := buf[5:]

	if recordLen > len(body) {
		// Truncated record: work with what we have rather than bailing,
		// since the prefix still contains a complete extensions block in
		// the common case of a ClientHello split across TCP segments.
		recordLen = len(body)
	}

	body = body[:recordLen]

	if len(body) < 4 || body[0] != tlsHandshakeClient {
		return "", false
	}

	msgLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	msg := body[4:]

	if msgLen < len(msg) {
		msg = msg[:msgLen]
	}

	return parseClientHelloBody(msg)
}

func parseClientHelloBody(msg []byte) (string, bool) {
	// version(2) + random(32)
	if len(msg) < 34 {
		return "", false
	}
	pos := 34

	if pos >= len(msg) {
		return "", false
	}
	sidLen := int(msg[pos])
	pos++
	if sidLen > 32 || pos+sidLen > len(msg) {
		return "", false
	}
	pos += sidLen

	if pos+2 > len(msg) {
		return "", false
	}
	cipherLen := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2
	if pos+cipherLen > len(msg) {
		return "", false
	}
	pos += cipherLen

	if pos+1 > len(msg) {
		return "", false
	}
	compLen := int(msg[pos])
	pos++
	if pos+compLen > len(msg) {
		return "", false
	}
	pos += compLen

	if pos+2 > len(msg) {
		return "", false
	}
	extsLen := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2
	if pos+extsLen > len(msg) {
		extsLen = len(msg) - pos
	}

	return scanExtensionsForSNI(msg[pos : pos+extsLen])
}

func scanExtensionsForSNI(exts []byte) (string, bool) {
	pos := 0

	for pos+4 <= len(exts) {
		extType := binary.BigEndian.Uint16(exts[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(exts[pos+2 : pos+4]))
		pos += 4

		if pos+extLen > len(exts) {
			return "", false
		}

		body := exts[pos : pos+extLen]
		pos += extLen

		if extType != tlsExtensionSNI {
			continue
		}

		if name, ok := parseSNIExtensionBody(body); ok {
			return name, true
		}
	}

	return "", false
}

// parseSNIExtensionBody parses the ServerNameList body:
// [listLen u16][nameType u8][nameLen u16][name ...]...
func parseSNIExtensionBody(body []byte) (string, bool) {
	if len(body) < 2 {
		return "", false
	}

	listLen := int(binary.BigEndian.Uint16(body[:2]))
	list := body[2:]

	if listLen < len(list) {
		list = list[:listLen]
	}

	pos := 0
	for pos+3 <= len(list) {
		nameType := list[pos]
		nameLen := int(binary.BigEndian.Uint16(list[pos+1 : pos+3]))
		pos += 3

		if pos+nameLen > len(list) {
			return "", false
		}

		name := list[pos : pos+nameLen]
		pos += nameLen

		if nameType == tlsSNINameTypeHost {
			return string(name), true
		}
	}

	return "", false
}
