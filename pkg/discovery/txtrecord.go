package discovery

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for an advertised endpoint.
func EncodeTXT(info *Info) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyBoard:   info.Board,
		TXTKeyVersion: info.Version,
	}
	if info.SocketPath != "" {
		txt[TXTKeyPath] = info.SocketPath
	}
	return txt
}

// DecodeTXT parses TXT records into the advertised fields of a Service.
// board and ver are required.
func DecodeTXT(txt TXTRecordMap, svc *Service) error {
	var ok bool
	if svc.Board, ok = txt[TXTKeyBoard]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyBoard)
	}
	if svc.Version, ok = txt[TXTKeyVersion]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	svc.SocketPath = txt[TXTKeyPath]
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings,
// sorted by key so repeated registrations publish identical records.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			// Key without value (boolean flag)
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidInstanceName, len(name), MaxInstanceNameLen)
	}
	return nil
}

// DefaultInstance returns "nxsd-<hostname>", truncated to the label limit.
func DefaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	host, _, _ = strings.Cut(host, ".")
	name := InstancePrefix + host
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}
