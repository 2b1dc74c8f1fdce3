// Package msp implements the framing of the MultiWii Serial Protocol spoken by
// Betaflight (v1 frames) and INAV (v2 frames), plus helpers to read and write
// the little-endian typed fields of MSP payloads.
//
// v1: '$' 'M' dir size cmd payload... xor(size, cmd, payload)
// v2: '$' 'X' dir flag cmd(u16) size(u16) payload... crc8_dvb_s2(flag..payload)
//
// dir is '<' for requests, '>' for responses and '!' for error responses.
package msp
