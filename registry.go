package main

import (
	"io"
	"sort"
	"strconv"
	"strings"
)

// BOOTP header fields are carried in the registry under pseudo-codes so the
// codec can treat them uniformly with true options. They never appear in the
// options area and carry no length prefix.
const (
	FIELD_RELAYHOPS = 0x0101
	FIELD_XID       = 0x0102
	FIELD_SECS      = 0x0103
	FIELD_CIADDR    = 0x0104
	FIELD_YIADDR    = 0x0105
	FIELD_SIADDR    = 0x0106
	FIELD_GIADDR    = 0x0107
	FIELD_CHADDR    = 0x0108
	FIELD_SNAME     = 0x0109
	FIELD_FILE      = 0x010a
)

const (
	MODE_NONE      = 0
	MODE_OPAQUE    = 1
	MODE_INTEGER   = 2
	MODE_BOOLEAN   = 3
	MODE_STRING    = 4
	MODE_INET4     = 5
	MODE_INET4MASK = 6
	MODE_OPTION    = 7
	MODE_MSGTYPE   = 8
	MODE_MASK      = 0x7f
	MODE_LIST      = 0x80
)

type OPTION struct {
	code   int
	mode   int
	min    int
	max    int
	modulo int
}

type MSGTYPE struct {
	name   string
	opcode byte
	bucket byte
}

var (
	MODE_NAMES = map[int]string{
		MODE_OPAQUE:    "hexstring",
		MODE_INTEGER:   "integer",
		MODE_BOOLEAN:   "boolean",
		MODE_STRING:    "string",
		MODE_INET4:     "IPv4 address",
		MODE_INET4MASK: "IPv4 address/netmask couple",
		MODE_OPTION:    "DHCP option",
		MODE_MSGTYPE:   "DHCP message type",
	}
	MSGTYPES = map[byte]*MSGTYPE{
		1:  {"discover", BOOTREQUEST, 1},
		2:  {"offer", BOOTREPLY, 1},
		3:  {"request", BOOTREQUEST, 3},
		4:  {"decline", BOOTREQUEST, 4},
		5:  {"ack", BOOTREPLY, 3},
		6:  {"nak", BOOTREPLY, 3},
		7:  {"release", BOOTREQUEST, 7},
		8:  {"inform", BOOTREQUEST, 8},
		9:  {"forcerenew", BOOTREPLY, 9},
		10: {"leasequery", BOOTREPLY, 10},
		11: {"leaseunassigned", BOOTREPLY, 11},
		12: {"leaseunknown", BOOTREPLY, 12},
		13: {"leaseactive", BOOTREPLY, 13},
		14: {"bulkleasequery", BOOTREPLY, 14},
		15: {"leasequerydone", BOOTREPLY, 15},
	}
	RMSGTYPES = map[string]byte{}
	OPTIONS   = map[string]*OPTION{
		"bootp-relay-hops":                   {FIELD_RELAYHOPS, MODE_INTEGER, 1, 1, 0},
		"bootp-transaction-id":               {FIELD_XID, MODE_OPAQUE, 4, 4, 0},
		"bootp-start-time":                   {FIELD_SECS, MODE_INTEGER, 2, 2, 0},
		"bootp-client-address":               {FIELD_CIADDR, MODE_INET4, 4, 4, 0},
		"bootp-assigned-address":             {FIELD_YIADDR, MODE_INET4, 4, 4, 0},
		"bootp-server-address":               {FIELD_SIADDR, MODE_INET4, 4, 4, 0},
		"bootp-relay-address":                {FIELD_GIADDR, MODE_INET4, 4, 4, 0},
		"client-hardware-address":            {FIELD_CHADDR, MODE_OPAQUE, 6, 6, 0},
		"bootp-server-name":                  {FIELD_SNAME, MODE_STRING, 1, 63, 0},
		"bootp-filename":                     {FIELD_FILE, MODE_STRING, 1, 127, 0},
		"subnet-mask":                        {1, MODE_INET4, 4, 4, 0},
		"time-offset":                        {2, MODE_INTEGER, 4, 4, 0},
		"routers":                            {3, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"time-servers":                       {4, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"name-servers":                       {5, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"domain-name-servers":                {6, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"log-servers":                        {7, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"cookie-servers":                     {8, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"lpr-servers":                        {9, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"impress-servers":                    {10, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"resource-location-servers":          {11, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"hostname":                           {12, MODE_STRING, 1, 0, 0},
		"boot-file-size":                     {13, MODE_INTEGER, 2, 2, 0},
		"merit-dump-file":                    {14, MODE_STRING, 1, 0, 0},
		"domain-name":                        {15, MODE_STRING, 1, 0, 0},
		"swap-server":                        {16, MODE_INET4, 4, 4, 0},
		"root-path":                          {17, MODE_STRING, 1, 0, 0},
		"extensions-path":                    {18, MODE_STRING, 1, 0, 0},
		"ip-forwarding":                      {19, MODE_BOOLEAN, 1, 1, 0},
		"non-local-source-routing":           {20, MODE_BOOLEAN, 1, 1, 0},
		"policy-filters":                     {21, MODE_INET4MASK | MODE_LIST, 8, 0, 8},
		"maximum-datagram-reassembly-size":   {22, MODE_INTEGER, 2, 2, 0},
		"ip-default-ttl":                     {23, MODE_INTEGER, 1, 1, 0},
		"path-mtu-aging-timeout":             {24, MODE_INTEGER, 4, 4, 0},
		"path-mtu-plateau-table":             {25, MODE_INTEGER | MODE_LIST, 2, 0, 2},
		"interface-mtu":                      {26, MODE_INTEGER, 2, 2, 0},
		"all-subnets-local":                  {27, MODE_BOOLEAN, 1, 1, 0},
		"broadcast-address":                  {28, MODE_INET4, 4, 4, 0},
		"perform-mask-discovery":             {29, MODE_BOOLEAN, 1, 1, 0},
		"mask-supplier":                      {30, MODE_BOOLEAN, 1, 1, 0},
		"perform-router-discovery":           {31, MODE_BOOLEAN, 1, 1, 0},
		"router-solicitation-address":        {32, MODE_INET4, 4, 4, 0},
		"static-routes":                      {33, MODE_INET4MASK | MODE_LIST, 8, 0, 8},
		"trailer-encapsulation":              {34, MODE_BOOLEAN, 1, 1, 0},
		"arp-cache-timeout":                  {35, MODE_INTEGER, 4, 4, 0},
		"ethernet-encapsulation":             {36, MODE_BOOLEAN, 1, 1, 0},
		"tcp-default-ttl":                    {37, MODE_INTEGER, 1, 1, 0},
		"tcp-keepalive-interval":             {38, MODE_INTEGER, 4, 4, 0},
		"tcp-keepalive-garbage":              {39, MODE_BOOLEAN, 1, 1, 0},
		"nis-domain":                         {40, MODE_STRING, 1, 0, 0},
		"nis-servers":                        {41, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"ntp-servers":                        {42, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"vendor-specific-information":        {43, MODE_OPAQUE, 1, 0, 0},
		"netbios-name-servers":               {44, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"netbios-dgram-distribution-servers": {45, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"netbios-node-type":                  {46, MODE_INTEGER, 1, 1, 0},
		"netbios-scope":                      {47, MODE_STRING, 1, 0, 0},
		"xwindow-font-servers":               {48, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"xwindow-display-managers":           {49, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"requested-ip-address":               {50, MODE_INET4, 4, 4, 0},
		"address-lease-time":                 {51, MODE_INTEGER, 4, 4, 0},
		"option-overload":                    {52, MODE_INTEGER, 1, 1, 0},
		"dhcp-message-type":                  {53, MODE_MSGTYPE, 1, 1, 0},
		"server-identifier":                  {54, MODE_INET4, 4, 4, 0},
		"parameters-request-list":            {55, MODE_OPTION | MODE_LIST, 1, 0, 1},
		"message":                            {56, MODE_STRING, 1, 0, 0},
		"max-message-size":                   {57, MODE_INTEGER, 2, 2, 0},
		"renewal-time":                       {58, MODE_INTEGER, 4, 4, 0},
		"rebinding-time":                     {59, MODE_INTEGER, 4, 4, 0},
		"vendor-class-identifier":            {60, MODE_STRING, 1, 0, 0},
		"client-identifier":                  {61, MODE_OPAQUE, 2, 0, 0},
		"netware-domain":                     {62, MODE_STRING, 1, 0, 0},
		"netware-option":                     {63, MODE_OPAQUE, 1, 0, 0},
		"nisp-domain":                        {64, MODE_STRING, 1, 0, 0},
		"nisp-servers":                       {65, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"tftp-server":                        {66, MODE_STRING, 1, 0, 0},
		"boot-filename":                      {67, MODE_STRING, 1, 0, 0},
		"mobile-ip-home-agents":              {68, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"smtp-servers":                       {69, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"pop3-servers":                       {70, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"nntp-servers":                       {71, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"www-servers":                        {72, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"finger-servers":                     {73, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"irc-servers":                        {74, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"streettalk-servers":                 {75, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"streettalk-directory-servers":       {76, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"user-class":                         {77, MODE_OPAQUE, 1, 0, 0},
		"directory-agent":                    {78, MODE_OPAQUE, 1, 0, 0},
		"service-scope":                      {79, MODE_OPAQUE, 1, 0, 0},
		"client-fqdn":                        {81, MODE_OPAQUE, 1, 0, 0},
		"relay-agent-information":            {82, MODE_OPAQUE, 1, 0, 0},
		"isns-configuration":                 {83, MODE_OPAQUE, 1, 0, 0},
		"nds-servers":                        {85, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"nds-tree-name":                      {86, MODE_STRING, 1, 0, 0},
		"nds-context":                        {87, MODE_STRING, 1, 0, 0},
		"bcmcs-domain":                       {88, MODE_STRING, 1, 0, 0},
		"bcmcs-servers":                      {89, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"authentication":                     {90, MODE_OPAQUE, 3, 0, 0},
		"last-transaction-time":              {91, MODE_INTEGER, 4, 4, 0},
		"associated-addresses":               {92, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"client-system":                      {93, MODE_INTEGER, 2, 2, 0},
		"client-ndi":                         {94, MODE_OPAQUE, 3, 3, 0},
		"client-guid":                        {97, MODE_OPAQUE, 1, 0, 0},
		"user-authentication":                {98, MODE_STRING, 1, 0, 0},
		"geoconf-civic":                      {99, MODE_OPAQUE, 1, 0, 0},
		"tz-posix":                           {100, MODE_STRING, 1, 0, 0},
		"tz-database":                        {101, MODE_STRING, 1, 0, 0},
		"auto-configuration":                 {116, MODE_INTEGER, 1, 1, 0},
		"name-service-search":                {117, MODE_INTEGER | MODE_LIST, 2, 0, 2},
		"subnet-selection":                   {118, MODE_INET4, 4, 4, 0},
		"domain-search":                      {119, MODE_STRING, 1, 0, 0},
		"sip-server":                         {120, MODE_OPAQUE, 1, 0, 0},
		"classless-route":                    {121, MODE_OPAQUE, 1, 0, 0},
		"cablelabs-configuration":            {122, MODE_OPAQUE, 1, 0, 0},
		"geoconf":                            {123, MODE_OPAQUE, 1, 0, 0},
		"vi-vendor-class":                    {124, MODE_OPAQUE, 1, 0, 0},
		"vi-vendor-specific-information":     {125, MODE_OPAQUE, 1, 0, 0},
		"pana-agents":                        {136, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"v4-lost":                            {137, MODE_STRING, 1, 0, 0},
		"v4-capwap-access-controller":        {138, MODE_OPAQUE, 1, 0, 0},
		"v4-address-mos":                     {139, MODE_OPAQUE, 1, 0, 0},
		"v4-fqdn-mos":                        {140, MODE_OPAQUE, 1, 0, 0},
		"sip-ua-domain":                      {141, MODE_STRING, 1, 0, 0},
		"v4-address-andsf":                   {142, MODE_OPAQUE, 1, 0, 0},
		"v4-geoloc":                          {144, MODE_OPAQUE, 1, 0, 0},
		"forcerenew-nonce-capable":           {145, MODE_OPAQUE, 1, 0, 0},
		"rdnss-selection":                    {146, MODE_OPAQUE, 1, 0, 0},
		"tftp-servers":                       {150, MODE_INET4 | MODE_LIST, 4, 0, 4},
		"status-code":                        {151, MODE_STRING, 1, 0, 0},
		"base-time":                          {152, MODE_INTEGER, 4, 4, 0},
		"start-time-of-state":                {153, MODE_INTEGER, 4, 4, 0},
		"query-start-time":                   {154, MODE_INTEGER, 4, 4, 0},
		"query-end-time":                     {155, MODE_INTEGER, 4, 4, 0},
		"dhcp-state":                         {156, MODE_INTEGER, 1, 1, 0},
		"data-source":                        {157, MODE_INTEGER, 1, 1, 0},
		"v4-pcp-server":                      {158, MODE_OPAQUE, 5, 0, 0},
		"pxelinux-magic":                     {208, MODE_OPAQUE, 4, 4, 0},
		"configuration-file":                 {209, MODE_STRING, 1, 0, 0},
		"path-prefix":                        {210, MODE_STRING, 1, 0, 0},
		"reboot-time":                        {211, MODE_INTEGER, 4, 4, 0},
		"v6-6rd":                             {212, MODE_OPAQUE, 1, 0, 0},
		"v4-access-domain":                   {213, MODE_STRING, 1, 0, 0},
		"subnet-allocation":                  {220, MODE_OPAQUE, 1, 0, 0},
		"virtual-subnet-allocation":          {221, MODE_OPAQUE, 1, 0, 0},
		"private-01":                         {224, MODE_OPAQUE, 1, 0, 0},
		"private-02":                         {225, MODE_OPAQUE, 1, 0, 0},
		"private-03":                         {226, MODE_OPAQUE, 1, 0, 0},
		"private-04":                         {227, MODE_OPAQUE, 1, 0, 0},
		"private-05":                         {228, MODE_OPAQUE, 1, 0, 0},
		"private-06":                         {229, MODE_OPAQUE, 1, 0, 0},
		"private-07":                         {230, MODE_OPAQUE, 1, 0, 0},
		"private-08":                         {231, MODE_OPAQUE, 1, 0, 0},
		"private-09":                         {232, MODE_OPAQUE, 1, 0, 0},
		"private-10":                         {233, MODE_OPAQUE, 1, 0, 0},
		"private-11":                         {234, MODE_OPAQUE, 1, 0, 0},
		"private-12":                         {235, MODE_OPAQUE, 1, 0, 0},
		"private-13":                         {236, MODE_OPAQUE, 1, 0, 0},
		"private-14":                         {237, MODE_OPAQUE, 1, 0, 0},
		"private-15":                         {238, MODE_OPAQUE, 1, 0, 0},
		"private-16":                         {239, MODE_OPAQUE, 1, 0, 0},
		"private-17":                         {240, MODE_OPAQUE, 1, 0, 0},
		"private-18":                         {241, MODE_OPAQUE, 1, 0, 0},
		"private-19":                         {242, MODE_OPAQUE, 1, 0, 0},
		"private-20":                         {243, MODE_OPAQUE, 1, 0, 0},
		"private-21":                         {244, MODE_OPAQUE, 1, 0, 0},
		"private-22":                         {245, MODE_OPAQUE, 1, 0, 0},
		"private-23":                         {246, MODE_OPAQUE, 1, 0, 0},
		"private-24":                         {247, MODE_OPAQUE, 1, 0, 0},
		"private-25":                         {248, MODE_OPAQUE, 1, 0, 0},
		"private-26":                         {249, MODE_OPAQUE, 1, 0, 0},
		"private-27":                         {250, MODE_OPAQUE, 1, 0, 0},
		"private-28":                         {251, MODE_OPAQUE, 1, 0, 0},
		"private-29":                         {252, MODE_OPAQUE, 1, 0, 0},
		"private-30":                         {253, MODE_OPAQUE, 1, 0, 0},
		"private-31":                         {254, MODE_OPAQUE, 1, 0, 0},
	}
	ROPTIONS = map[int]string{}
)

func init() {
	for id, msgtype := range MSGTYPES {
		RMSGTYPES[msgtype.name] = id
	}
	for name, option := range OPTIONS {
		ROPTIONS[option.code] = name
	}
}

func (o *OPTION) list() bool {
	return o.mode&MODE_LIST != 0
}

func (o *OPTION) header() bool {
	return o.code > 0xff
}

// lookup resolves a JSON key to its registry entry, accepting registry names
// case-insensitively and decimal codes in [1,254]. Decimal codes outside the
// registry resolve to a synthetic opaque option of that code.
func lookup(key string) (string, *OPTION) {
	if code, err := strconv.Atoi(key); err == nil {
		if code < 1 || code > 254 {
			return "", nil
		}
		if name, ok := ROPTIONS[code]; ok {
			return name, OPTIONS[name]
		}
		return key, &OPTION{code, MODE_OPAQUE, 1, 0, 0}
	}
	name := strings.ToLower(key)
	if option, ok := OPTIONS[name]; ok {
		return name, option
	}
	return "", nil
}

func msgtypename(mtype byte) string {
	if msgtype := MSGTYPES[mtype]; msgtype != nil {
		return msgtype.name
	}
	return ""
}

// listkeys prints the registry as a three-column table (key, decoded type,
// numeric code), BOOTP header pseudo-codes shown with a dash.
func listkeys(output io.Writer) {
	names := make([]string, 0, len(OPTIONS))
	for name := range OPTIONS {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return OPTIONS[names[i]].code < OPTIONS[names[j]].code
	})
	io.WriteString(output, "key                                  type                                  option\n")
	io.WriteString(output, "-----------------------------------  ------------------------------------  ------\n")
	for _, name := range names {
		option, mode := OPTIONS[name], ""
		switch option.mode & MODE_MASK {
		case MODE_INET4:
			mode = MODE_NAMES[MODE_INET4]
			if option.list() {
				mode += "es list"
			}
		case MODE_INET4MASK:
			mode = MODE_NAMES[MODE_INET4MASK]
			if option.list() {
				mode = "IPv4 addresses/netmasks couples list"
			}
		default:
			mode = MODE_NAMES[option.mode&MODE_MASK]
			if option.list() {
				mode += "s list"
			}
		}
		code := "-"
		if !option.header() {
			code = strconv.Itoa(option.code)
		}
		for len(name) < 37 {
			name += " "
		}
		for len(mode) < 38 {
			mode += " "
		}
		io.WriteString(output, name+mode+code+"\n")
	}
}
