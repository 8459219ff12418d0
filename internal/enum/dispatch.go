// Package enum routes open services to deeper enumeration routines.
//
// The dispatch table is ordered and the first entry whose token occurs in
// the classified service name wins, so "https" is routed to the HTTP
// routine before any later entry can claim it.
package enum

import "strings"

// Routine identifies an enumeration routine.
type Routine string

// Known routines.
const (
	RoutineHTTP  Routine = "http-enum"
	RoutineSSH   Routine = "ssh-enum"
	RoutineFTP   Routine = "ftp-enum"
	RoutineSMTP  Routine = "smtp-enum"
	RoutineSMB   Routine = "smb-enum"
	RoutineSNMP  Routine = "snmp-enum"
	RoutineDNS   Routine = "dns-enum"
	RoutineMySQL Routine = "mysql-enum"
	RoutineRDP   Routine = "rdp-enum"
)

type route struct {
	tokens  []string
	routine Routine
}

var table = []route{
	{[]string{"http"}, RoutineHTTP},
	{[]string{"ssh"}, RoutineSSH},
	{[]string{"ftp"}, RoutineFTP},
	{[]string{"smtp"}, RoutineSMTP},
	{[]string{"smb", "microsoft-ds", "netbios"}, RoutineSMB},
	{[]string{"snmp"}, RoutineSNMP},
	{[]string{"dns", "domain"}, RoutineDNS},
	{[]string{"mysql"}, RoutineMySQL},
	{[]string{"rdp", "ms-wbt-server"}, RoutineRDP},
}

// Lookup returns the routine for a service name.
func Lookup(service string) (Routine, bool) {
	service = strings.ToLower(service)
	for _, r := range table {
		for _, token := range r.tokens {
			if strings.Contains(service, token) {
				return r.routine, true
			}
		}
	}
	return "", false
}

// Routines lists every routine in dispatch order.
func Routines() []Routine {
	out := make([]Routine, 0, len(table))
	for _, r := range table {
		out = append(out, r.routine)
	}
	return out
}
