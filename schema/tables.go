package schema

import (
	"fmt"
	"sync"

	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/types"
)

// Table ids. Append only; an id is never reused.
const (
	TableAccounts            types.TableID = 1
	TableUsernames           types.TableID = 2
	TableLinuxServers        types.TableID = 3
	TableLinuxGroups         types.TableID = 4
	TableIPAddresses         types.TableID = 5
	TableHttpdSites          types.TableID = 6
	TableLinuxServerAccounts types.TableID = 7
)

// MaxSftpUmask bounds linux_server_accounts.sftp_umask.
const MaxSftpUmask = 0o777

func validateUmask(v any) error {
	n := v.(int64)
	if n < 0 || n > MaxSftpUmask {
		return fmt.Errorf("umask %#o out of range 0..%#o", n, MaxSftpUmask)
	}
	return nil
}

func validatePort(v any) error {
	n := v.(int64)
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

var (
	Accounts = Must(TableAccounts, "accounts", "accounting",
		Column{Name: "accounting", Kind: KindString},
		Column{Name: "name", Kind: KindString},
		Column{Name: "parent", Kind: KindString, Nullable: true},
		Column{Name: "created", Kind: KindTime},
		Column{Name: "disable_log", Kind: KindInt, Nullable: true},
		Column{Name: "email_in_burst", Kind: KindInt, Nullable: true, Since: protocol.V1_30},
	)

	Usernames = Must(TableUsernames, "usernames", "username",
		Column{Name: "username", Kind: KindString},
		Column{Name: "package", Kind: KindString},
		Column{Name: "disable_log", Kind: KindInt, Nullable: true},
	)

	LinuxServers = Must(TableLinuxServers, "linux_servers", "id",
		Column{Name: "id", Kind: KindInt},
		Column{Name: "hostname", Kind: KindString},
		Column{Name: "farm", Kind: KindString},
		Column{Name: "daemon_port", Kind: KindInt, Validate: validatePort},
		Column{Name: "uid_min", Kind: KindInt, Since: protocol.V1_80, Default: int64(1000)},
		Column{Name: "gid_min", Kind: KindInt, Since: protocol.V1_80, Default: int64(1000)},
		Column{Name: "sftp_umask", Kind: KindInt, Nullable: true, Since: protocol.V1_80, Validate: validateUmask},
	)

	LinuxGroups = Must(TableLinuxGroups, "linux_groups", "id",
		Column{Name: "id", Kind: KindInt},
		Column{Name: "name", Kind: KindString},
		Column{Name: "server", Kind: KindInt},
		Column{Name: "gid", Kind: KindInt},
		Column{Name: "type", Kind: KindString},
	)

	IPAddresses = Must(TableIPAddresses, "ip_addresses", "id",
		Column{Name: "id", Kind: KindInt},
		Column{Name: "address", Kind: KindString},
		Column{Name: "netmask", Kind: KindString, Nullable: true},
		Column{Name: "is_alias", Kind: KindBool},
		Column{Name: "external_address", Kind: KindString, Nullable: true, Since: protocol.V1_44},
		// replaced by external_address
		Column{Name: "nat_address", Kind: KindString, Nullable: true, Until: protocol.V1_30},
	)

	HttpdSites = Must(TableHttpdSites, "httpd_sites", "id",
		Column{Name: "id", Kind: KindInt},
		Column{Name: "name", Kind: KindString},
		Column{Name: "server", Kind: KindInt},
		Column{Name: "is_disabled", Kind: KindBool},
		Column{Name: "php_version", Kind: KindString, Nullable: true, Since: protocol.V1_62},
		Column{Name: "block_trace_track", Kind: KindBool, Since: protocol.V1_81_10, Default: true},
	)

	LinuxServerAccounts = Must(TableLinuxServerAccounts, "linux_server_accounts", "id",
		Column{Name: "id", Kind: KindInt},
		Column{Name: "username", Kind: KindString},
		Column{Name: "server", Kind: KindInt},
		Column{Name: "uid", Kind: KindInt},
		Column{Name: "home", Kind: KindString},
		Column{Name: "shell", Kind: KindString, Since: protocol.V1_44, Default: "/bin/bash"},
		Column{Name: "created", Kind: KindTime},
		Column{Name: "sftp_umask", Kind: KindInt, Nullable: true, Since: protocol.V1_80, Validate: validateUmask},
		Column{Name: "cron_table", Kind: KindBytes, Nullable: true, Since: protocol.V1_83},
	)
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry holds every table defined in this package.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(Accounts, Usernames, LinuxServers, LinuxGroups, IPAddresses, HttpdSites, LinuxServerAccounts)
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
