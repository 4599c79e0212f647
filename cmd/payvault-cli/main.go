package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"payvault/core/state"
	"payvault/core/types"
	"payvault/native/escrow"
	"payvault/native/fees"
	"payvault/native/platform"
	"payvault/storage"
)

var dbPath = defaultDBPath()

func defaultDBPath() string {
	if path := os.Getenv("PAYVAULT_DB"); path != "" {
		return path
	}
	return "payvault.db"
}

func main() {
	args := os.Args[1:]
	if len(args) > 1 && args[0] == "--db" {
		dbPath = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	args = args[1:]
	switch command {
	case "init":
		requireArgs(args, 2, "init <admin> <treasury>")
		runInit(args[0], args[1])
	case "config":
		runConfig()
	case "mint":
		requireArgs(args, 3, "mint <address> <token> <amount>")
		runMint(args[0], args[1], args[2])
	case "balance":
		requireArgs(args, 2, "balance <address> <token>")
		runBalance(args[0], args[1])
	case "create":
		requireArgs(args, 5, "create <payer> <sequence> <token> <amount> <recipient:bps,...>")
		runCreate(args)
	case "create-fixed":
		requireArgs(args, 6, "create-fixed <payer> <sequence> <token> <workerAmount> <recipient> <category>")
		runCreateFixed(args)
	case "fund":
		requireArgs(args, 2, "fund <id> <caller>")
		runEscrowOp(args, func(engine *escrow.Engine, id [32]byte, caller [20]byte) error {
			return engine.Fund(id, caller)
		})
	case "approve":
		requireArgs(args, 2, "approve <id> <caller>")
		runEscrowOp(args, func(engine *escrow.Engine, id [32]byte, caller [20]byte) error {
			return engine.Approve(id, caller)
		})
	case "release":
		requireArgs(args, 2, "release <id> <caller>")
		runEscrowOp(args, func(engine *escrow.Engine, id [32]byte, caller [20]byte) error {
			return engine.Release(id, caller)
		})
	case "refund":
		requireArgs(args, 2, "refund <id> <caller>")
		runEscrowOp(args, func(engine *escrow.Engine, id [32]byte, caller [20]byte) error {
			return engine.Refund(id, caller)
		})
	case "freeze":
		requireArgs(args, 2, "freeze <id> <caller>")
		runEscrowOp(args, func(engine *escrow.Engine, id [32]byte, caller [20]byte) error {
			return engine.Freeze(id, caller)
		})
	case "settle":
		requireArgs(args, 3, "settle <id> <caller> <account:owner:token,...>")
		runSettle(args)
	case "status":
		requireArgs(args, 1, "status <id>")
		runStatus(args[0])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: payvault-cli [--db <path>] <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  init <admin> <treasury>")
	fmt.Println("  config")
	fmt.Println("  mint <address> <token> <amount>")
	fmt.Println("  balance <address> <token>")
	fmt.Println("  create <payer> <sequence> <token> <amount> <recipient:bps,...>")
	fmt.Println("  create-fixed <payer> <sequence> <token> <workerAmount> <recipient> <category>")
	fmt.Println("  fund|approve|release|refund|freeze <id> <caller>")
	fmt.Println("  settle <id> <caller> <account:owner:token,...>")
	fmt.Println("  status <id>")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Printf("Error: expected %s\n", usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func openManager() (*state.Manager, func()) {
	db, err := storage.NewLevelDB(dbPath)
	if err != nil {
		fail(err)
	}
	return state.NewManager(db), db.Close
}

func newEngines(manager *state.Manager) (*escrow.Engine, *platform.Engine) {
	platformEngine := platform.NewEngine()
	platformEngine.SetState(manager)
	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetPlatform(platformEngine)
	escrowEngine.SetNowFunc(func() int64 { return time.Now().Unix() })
	return escrowEngine, platformEngine
}

func parseAddr(raw string) [20]byte {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != 20 {
		fail(fmt.Errorf("invalid address %q", raw))
	}
	var addr [20]byte
	copy(addr[:], decoded)
	return addr
}

func parseID(raw string) [32]byte {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != 32 {
		fail(fmt.Errorf("invalid escrow id %q", raw))
	}
	var id [32]byte
	copy(id[:], decoded)
	return id
}

func parseAmount(raw string) uint64 {
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		fail(fmt.Errorf("invalid amount %q", raw))
	}
	return amount
}

func parseSplits(raw string) []fees.Split {
	parts := strings.Split(raw, ",")
	splits := make([]fees.Split, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			fail(fmt.Errorf("invalid split %q, expected recipient:bps", part))
		}
		bps, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			fail(fmt.Errorf("invalid split weight %q", fields[1]))
		}
		splits = append(splits, fees.Split{Recipient: parseAddr(fields[0]), Bps: uint32(bps)})
	}
	return splits
}

func parseDestinations(raw string) []escrow.Destination {
	parts := strings.Split(raw, ",")
	dests := make([]escrow.Destination, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			fail(fmt.Errorf("invalid destination %q, expected account:owner:token", part))
		}
		dests = append(dests, escrow.Destination{
			Account: parseAddr(fields[0]),
			Owner:   parseAddr(fields[1]),
			Token:   fields[2],
		})
	}
	return dests
}

func runInit(adminRaw, treasuryRaw string) {
	manager, closeDB := openManager()
	defer closeDB()
	_, platformEngine := newEngines(manager)
	cfg, err := platformEngine.Initialize(parseAddr(adminRaw), parseAddr(treasuryRaw))
	if err != nil {
		fail(err)
	}
	fmt.Printf("Platform initialized. Admin %x, treasury %x\n", cfg.Admin, cfg.Treasury)
}

func runConfig() {
	manager, closeDB := openManager()
	defer closeDB()
	cfg, ok, err := manager.PlatformConfigGet()
	if err != nil {
		fail(err)
	}
	if !ok {
		fmt.Println("Platform not initialized.")
		return
	}
	fmt.Printf("Admin:    %x\n", cfg.Admin)
	fmt.Printf("Treasury: %x\n", cfg.Treasury)
	fmt.Printf("Paused:   %t\n", cfg.Paused)
	fmt.Printf("Default fee: %d bps\n", cfg.DefaultFeeBps)
	for category, rate := range cfg.CategoryRates {
		fmt.Printf("  %s: %d bps\n", category, rate)
	}
}

// runMint credits a local test balance. Only meaningful against throwaway
// databases; a production ledger funds accounts through deposits.
func runMint(addrRaw, token, amountRaw string) {
	manager, closeDB := openManager()
	defer closeDB()
	addr := parseAddr(addrRaw)
	account, err := manager.GetAccount(addr)
	if err != nil {
		fail(err)
	}
	if account == nil {
		account = types.NewAccount()
	}
	balance, err := fees.Add(account.Balance(token), parseAmount(amountRaw))
	if err != nil {
		fail(err)
	}
	account.SetBalance(token, balance)
	if err := manager.PutAccount(addr, account); err != nil {
		fail(err)
	}
	fmt.Printf("Minted. %x now holds %d %s\n", addr, account.Balance(token), token)
}

func runBalance(addrRaw, token string) {
	manager, closeDB := openManager()
	defer closeDB()
	account, err := manager.GetAccount(parseAddr(addrRaw))
	if err != nil {
		fail(err)
	}
	fmt.Printf("%d %s\n", account.Balance(token), token)
}

func runCreate(args []string) {
	manager, closeDB := openManager()
	defer closeDB()
	engine, _ := newEngines(manager)
	payer := parseAddr(args[0])
	sequence := parseAmount(args[1])
	record, err := engine.Create(payer, sequence, args[2], parseAmount(args[3]), parseSplits(args[4]), 0)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Escrow created. ID %x, vault %x\n", record.ID, record.Vault)
}

func runCreateFixed(args []string) {
	manager, closeDB := openManager()
	defer closeDB()
	engine, _ := newEngines(manager)
	payer := parseAddr(args[0])
	sequence := parseAmount(args[1])
	record, err := engine.CreateFixedFee(payer, sequence, args[2], parseAmount(args[3]), parseAddr(args[4]), args[5], 0)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Escrow created. ID %x, vault %x, fee %d, total %d\n", record.ID, record.Vault, record.FeeAmount, record.TotalAmount)
}

func runEscrowOp(args []string, op func(*escrow.Engine, [32]byte, [20]byte) error) {
	manager, closeDB := openManager()
	defer closeDB()
	engine, _ := newEngines(manager)
	if err := op(engine, parseID(args[0]), parseAddr(args[1])); err != nil {
		fail(err)
	}
	fmt.Println("OK")
}

func runSettle(args []string) {
	manager, closeDB := openManager()
	defer closeDB()
	engine, _ := newEngines(manager)
	if err := engine.Settle(parseID(args[0]), parseAddr(args[1]), parseDestinations(args[2])); err != nil {
		fail(err)
	}
	fmt.Println("OK")
}

func runStatus(idRaw string) {
	manager, closeDB := openManager()
	defer closeDB()
	engine, _ := newEngines(manager)
	record, err := engine.Get(parseID(idRaw))
	if err != nil {
		fail(err)
	}
	fmt.Printf("ID:      %x\n", record.ID)
	fmt.Printf("Payer:   %x\n", record.Payer)
	fmt.Printf("Token:   %s\n", record.Token)
	fmt.Printf("Amount:  %d\n", record.TotalAmount)
	fmt.Printf("Status:  %s\n", record.Status)
	if record.SplitMode() {
		for _, split := range record.Splits {
			fmt.Printf("  split %x: %d bps\n", split.Recipient, split.Bps)
		}
	} else {
		fmt.Printf("Worker:  %x (%d), fee %d\n", record.Recipient, record.WorkerAmount, record.FeeAmount)
	}
	if record.Deadline != 0 {
		fmt.Printf("Deadline: %d\n", record.Deadline)
	}
}
