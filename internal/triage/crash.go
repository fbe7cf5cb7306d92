package triage

import (
	"fmt"

	"github.com/olksdr/minidump-viewer/internal/minidump"
)

const (
	ntAccessViolation = 0xc0000005
	ntInPageError     = 0xc0000006

	// Breakpad writes this code for dumps requested without a crash.
	dumpRequested = 0xffffffff
)

var windowsCodes = map[uint32]string{
	0x40010005: "DBG_CONTROL_C",
	0x4000001f: "STATUS_WX86_BREAKPOINT",
	0x80000001: "EXCEPTION_GUARD_PAGE",
	0x80000002: "EXCEPTION_DATATYPE_MISALIGNMENT",
	0x80000003: "EXCEPTION_BREAKPOINT",
	0x80000004: "EXCEPTION_SINGLE_STEP",
	0xc0000008: "EXCEPTION_INVALID_HANDLE",
	0xc000001d: "EXCEPTION_ILLEGAL_INSTRUCTION",
	0xc0000025: "EXCEPTION_NONCONTINUABLE_EXCEPTION",
	0xc0000026: "EXCEPTION_INVALID_DISPOSITION",
	0xc000008c: "EXCEPTION_ARRAY_BOUNDS_EXCEEDED",
	0xc000008d: "EXCEPTION_FLT_DENORMAL_OPERAND",
	0xc000008e: "EXCEPTION_FLT_DIVIDE_BY_ZERO",
	0xc000008f: "EXCEPTION_FLT_INEXACT_RESULT",
	0xc0000090: "EXCEPTION_FLT_INVALID_OPERATION",
	0xc0000091: "EXCEPTION_FLT_OVERFLOW",
	0xc0000092: "EXCEPTION_FLT_STACK_CHECK",
	0xc0000093: "EXCEPTION_FLT_UNDERFLOW",
	0xc0000094: "EXCEPTION_INT_DIVIDE_BY_ZERO",
	0xc0000095: "EXCEPTION_INT_OVERFLOW",
	0xc0000096: "EXCEPTION_PRIV_INSTRUCTION",
	0xc00000fd: "EXCEPTION_STACK_OVERFLOW",
	0xc0000194: "EXCEPTION_POSSIBLE_DEADLOCK",
	0xc0000374: "STATUS_HEAP_CORRUPTION",
	0xc0000409: "STATUS_STACK_BUFFER_OVERRUN",
	0xc0000420: "STATUS_ASSERTION_FAILURE",
	0xe06d7363: "EXCEPTION_CPP",
	0x4000001e: "STATUS_WX86_SINGLE_STEP",
	0xc000013a: "STATUS_CONTROL_C_EXIT",
	0xc0000017: "STATUS_NO_MEMORY",
	0xc0000602: "STATUS_FAIL_FAST_EXCEPTION",
}

var accessKinds = map[uint64]string{
	0: "READ",
	1: "WRITE",
	8: "EXEC",
}

var linuxSignals = map[uint32]string{
	1:  "SIGHUP",
	2:  "SIGINT",
	3:  "SIGQUIT",
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	10: "SIGUSR1",
	11: "SIGSEGV",
	12: "SIGUSR2",
	13: "SIGPIPE",
	14: "SIGALRM",
	15: "SIGTERM",
	16: "SIGSTKFLT",
	17: "SIGCHLD",
	18: "SIGCONT",
	19: "SIGSTOP",
	20: "SIGTSTP",
	21: "SIGTTIN",
	22: "SIGTTOU",
	23: "SIGURG",
	24: "SIGXCPU",
	25: "SIGXFSZ",
	26: "SIGVTALRM",
	27: "SIGPROF",
	28: "SIGWINCH",
	29: "SIGIO",
	30: "SIGPWR",
	31: "SIGSYS",
}

// si_code values per signal; the generic ones apply to every signal.
var linuxCodes = map[uint32]map[uint32]string{
	4:  {1: "ILL_ILLOPC", 2: "ILL_ILLOPN", 3: "ILL_ILLADR", 4: "ILL_ILLTRP", 5: "ILL_PRVOPC", 6: "ILL_PRVREG", 7: "ILL_COPROC", 8: "ILL_BADSTK"},
	5:  {1: "TRAP_BRKPT", 2: "TRAP_TRACE", 3: "TRAP_BRANCH", 4: "TRAP_HWBKPT"},
	7:  {1: "BUS_ADRALN", 2: "BUS_ADRERR", 3: "BUS_OBJERR", 4: "BUS_MCEERR_AR", 5: "BUS_MCEERR_AO"},
	8:  {1: "FPE_INTDIV", 2: "FPE_INTOVF", 3: "FPE_FLTDIV", 4: "FPE_FLTOVF", 5: "FPE_FLTUND", 6: "FPE_FLTRES", 7: "FPE_FLTINV", 8: "FPE_FLTSUB"},
	11: {1: "SEGV_MAPERR", 2: "SEGV_ACCERR", 3: "SEGV_BNDERR", 4: "SEGV_PKUERR", 5: "SEGV_ACCADI", 6: "SEGV_ADIDERR", 7: "SEGV_ADIPERR", 8: "SEGV_MTEAERR", 9: "SEGV_MTESERR"},
	31: {1: "SYS_SECCOMP"},
}

var linuxGenericCodes = map[int32]string{
	0:    "SI_USER",
	0x80: "SI_KERNEL",
	-1:   "SI_QUEUE",
	-2:   "SI_TIMER",
	-3:   "SI_MESGQ",
	-4:   "SI_ASYNCIO",
	-5:   "SI_SIGIO",
	-6:   "SI_TKILL",
}

// Breakpad reports uncaught signals under this pseudo exception, with the
// signal number in the flags.
const macSimulated = 0x43507378

var macExceptions = map[uint32]string{
	1:  "EXC_BAD_ACCESS",
	2:  "EXC_BAD_INSTRUCTION",
	3:  "EXC_ARITHMETIC",
	4:  "EXC_EMULATION",
	5:  "EXC_SOFTWARE",
	6:  "EXC_BREAKPOINT",
	7:  "EXC_SYSCALL",
	8:  "EXC_MACH_SYSCALL",
	9:  "EXC_RPC_ALERT",
	10: "EXC_CRASH",
	11: "EXC_RESOURCE",
	12: "EXC_GUARD",
	13: "EXC_CORPSE_NOTIFY",

	macSimulated: "SIMULATED",
}

var macBadAccess = map[uint32]string{
	1:  "KERN_INVALID_ADDRESS",
	2:  "KERN_PROTECTION_FAILURE",
	8:  "KERN_NO_ACCESS",
	9:  "KERN_MEMORY_FAILURE",
	10: "KERN_MEMORY_ERROR",
	13: "KERN_CODESIGN_ERROR",
}

// CrashReason names the exception using the conventions of the dump's OS:
// NTSTATUS codes on Windows, signals and si_code on Linux and Android,
// Mach exception types on Apple platforms.
func CrashReason(os minidump.OS, r *minidump.ExceptionRecord) string {
	if r.Code == dumpRequested {
		return "DUMP_REQUESTED"
	}
	switch {
	case os.IsWindows():
		return windowsReason(r)
	case os == minidump.OSLinux || os == minidump.OSAndroid:
		return linuxReason(r)
	case os == minidump.OSMacOS || os == minidump.OSIOS:
		return macReason(r)
	}
	return fmt.Sprintf("0x%08x / 0x%08x", r.Code, r.Flags)
}

func windowsReason(r *minidump.ExceptionRecord) string {
	params := r.Parameters()
	switch r.Code {
	case ntAccessViolation, ntInPageError:
		name := "EXCEPTION_ACCESS_VIOLATION"
		if r.Code == ntInPageError {
			name = "EXCEPTION_IN_PAGE_ERROR"
		}
		if len(params) == 0 {
			return name
		}
		if kind, ok := accessKinds[params[0]]; ok {
			return name + "_" + kind
		}
		return name
	}
	if name, ok := windowsCodes[r.Code]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", r.Code)
}

func linuxReason(r *minidump.ExceptionRecord) string {
	sig, ok := linuxSignals[r.Code]
	if !ok {
		return fmt.Sprintf("0x%08x / 0x%08x", r.Code, r.Flags)
	}
	if code, ok := linuxCodes[r.Code][r.Flags]; ok {
		return sig + " / " + code
	}
	if code, ok := linuxGenericCodes[int32(r.Flags)]; ok {
		return sig + " / " + code
	}
	return fmt.Sprintf("%s / 0x%08x", sig, r.Flags)
}

func macReason(r *minidump.ExceptionRecord) string {
	exc, ok := macExceptions[r.Code]
	if !ok {
		return fmt.Sprintf("0x%08x / 0x%08x", r.Code, r.Flags)
	}
	if r.Code == 1 {
		if code, ok := macBadAccess[r.Flags]; ok {
			return exc + " / " + code
		}
	}
	if r.Code == macSimulated {
		if sig, ok := linuxSignals[r.Flags]; ok {
			return exc + " / " + sig
		}
	}
	return fmt.Sprintf("%s / 0x%08x", exc, r.Flags)
}

// CrashAddress returns the faulting data address for Windows access
// violations and the exception address otherwise.
func CrashAddress(os minidump.OS, r *minidump.ExceptionRecord) uint64 {
	if os.IsWindows() && (r.Code == ntAccessViolation || r.Code == ntInPageError) {
		if params := r.Parameters(); len(params) >= 2 {
			return params[1]
		}
	}
	return r.Address
}
