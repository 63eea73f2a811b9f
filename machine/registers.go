package machine

// Register numbers. The general purpose registers are 0 to NumGPRegs-1.
const (
	StackReg     = 29
	RetAddrReg   = 31
	NumGPRegs    = 32
	HiReg        = 32
	LoReg        = 33
	PCReg        = 34
	NextPCReg    = 35
	PrevPCReg    = 36
	LoadReg      = 37
	LoadValueReg = 38
	BadVAddrReg  = 39
	NumTotalRegs = 40
)

// InstructionSize is the number of bytes between two instructions.
const InstructionSize = 4
