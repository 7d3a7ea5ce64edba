//go:build linux

package kernelstats

import "os"

const snmpPath = "/proc/net/snmp"

// ReadUDPInErrors parses /proc/net/snmp's "Udp:" header/data line pair and
// returns the InErrors column.
func ReadUDPInErrors() (Sample, error) {
	f, err := os.Open(snmpPath)
	if err != nil {
		return Sample{}, err
	}
	defer f.Close()
	return parseUDPInErrors(f)
}
