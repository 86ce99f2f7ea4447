package constants

// JDWP命令集，对应协议里的command set编号
type CommandSet uint8

const (
	CommandSetVirtualMachine  CommandSet = 1
	CommandSetReferenceType   CommandSet = 2
	CommandSetClassType       CommandSet = 3
	CommandSetArrayType       CommandSet = 4
	CommandSetInterfaceType   CommandSet = 5
	CommandSetMethod          CommandSet = 6
	CommandSetField           CommandSet = 8
	CommandSetObjectReference CommandSet = 9
	CommandSetStringReference CommandSet = 10
	CommandSetThreadReference CommandSet = 11
	CommandSetThreadGroup     CommandSet = 12
	CommandSetArrayReference  CommandSet = 13
	CommandSetClassLoader     CommandSet = 14
	CommandSetEventRequest    CommandSet = 15
	CommandSetStackFrame      CommandSet = 16
	CommandSetClassObject     CommandSet = 17
	CommandSetEvent           CommandSet = 64
)

// VirtualMachine命令集下的命令
const (
	VMVersion            uint8 = 1
	VMClassesBySignature uint8 = 2
	VMAllClasses         uint8 = 3
	VMAllThreads         uint8 = 4
	VMDispose            uint8 = 6
	VMIDSizes            uint8 = 7
	VMSuspend            uint8 = 8
	VMResume             uint8 = 9
	VMExit               uint8 = 10
	VMCreateString       uint8 = 11
)

// ReferenceType命令集下的命令
const (
	RefTypeSignature uint8 = 1
	RefTypeFields    uint8 = 4
	RefTypeMethods   uint8 = 5
)

// ClassType命令集下的命令
const (
	ClassTypeSuperclass   uint8 = 1
	ClassTypeInvokeMethod uint8 = 3
	ClassTypeNewInstance  uint8 = 4
)

// Method命令集下的命令
const (
	MethodLineTable     uint8 = 1
	MethodVariableTable uint8 = 2
)

// ObjectReference命令集下的命令
const (
	ObjRefReferenceType     uint8 = 1
	ObjRefGetValues         uint8 = 2
	ObjRefInvokeMethod      uint8 = 6
	ObjRefDisableCollection uint8 = 7
	ObjRefEnableCollection  uint8 = 8
)

// StringReference命令集下的命令
const (
	StringRefValue uint8 = 1
)

// ThreadReference命令集下的命令
const (
	ThreadRefName         uint8 = 1
	ThreadRefSuspend      uint8 = 2
	ThreadRefResume       uint8 = 3
	ThreadRefStatus       uint8 = 4
	ThreadRefFrames       uint8 = 6
	ThreadRefFrameCount   uint8 = 7
	ThreadRefSuspendCount uint8 = 12
)

// ArrayReference命令集下的命令
const (
	ArrayRefLength    uint8 = 1
	ArrayRefGetValues uint8 = 2
)

// EventRequest命令集下的命令
const (
	EventRequestSet                 uint8 = 1
	EventRequestClear               uint8 = 2
	EventRequestClearAllBreakpoints uint8 = 3
)

// StackFrame命令集下的命令
const (
	StackFrameGetValues  uint8 = 1
	StackFrameSetValues  uint8 = 2
	StackFrameThisObject uint8 = 3
)

// Event命令集下只有Composite一个命令，由虚拟机主动发送
const (
	EventComposite uint8 = 100
)

// EventKind 事件类型
type EventKind uint8

const (
	EventKindSingleStep                EventKind = 1
	EventKindBreakpoint                EventKind = 2
	EventKindFramePop                  EventKind = 3
	EventKindException                 EventKind = 4
	EventKindUserDefined               EventKind = 5
	EventKindThreadStart               EventKind = 6
	EventKindThreadDeath               EventKind = 7
	EventKindClassPrepare              EventKind = 8
	EventKindClassUnload               EventKind = 9
	EventKindClassLoad                 EventKind = 10
	EventKindFieldAccess               EventKind = 20
	EventKindFieldModification         EventKind = 21
	EventKindExceptionCatch            EventKind = 30
	EventKindMethodEntry               EventKind = 40
	EventKindMethodExit                EventKind = 41
	EventKindMethodExitWithReturnValue EventKind = 42
	EventKindMonitorContendedEnter     EventKind = 43
	EventKindMonitorContendedEntered   EventKind = 44
	EventKindMonitorWait               EventKind = 45
	EventKindMonitorWaited             EventKind = 46
	EventKindVMStart                   EventKind = 90
	EventKindVMDeath                   EventKind = 99
	EventKindVMDisconnected            EventKind = 100
)

// SuspendPolicy 事件触发时虚拟机挂起哪些线程
type SuspendPolicy uint8

const (
	SuspendPolicyNone        SuspendPolicy = 0
	SuspendPolicyEventThread SuspendPolicy = 1
	SuspendPolicyAll         SuspendPolicy = 2
)

// 单步调试的粒度和深度
const (
	StepSizeMin  = 0
	StepSizeLine = 1

	StepDepthInto = 0
	StepDepthOver = 1
	StepDepthOut  = 2
)

// ModifierKind 事件请求的过滤器类型
type ModifierKind uint8

const (
	ModifierCount         ModifierKind = 1
	ModifierThreadOnly    ModifierKind = 3
	ModifierClassOnly     ModifierKind = 4
	ModifierClassMatch    ModifierKind = 5
	ModifierClassExclude  ModifierKind = 6
	ModifierLocationOnly  ModifierKind = 7
	ModifierExceptionOnly ModifierKind = 8
	ModifierFieldOnly     ModifierKind = 9
	ModifierStep          ModifierKind = 10
	ModifierInstanceOnly  ModifierKind = 11
)

// TypeTag 引用类型的种类
type TypeTag uint8

const (
	TypeTagClass     TypeTag = 1
	TypeTagInterface TypeTag = 2
	TypeTagArray     TypeTag = 3
)

// Tag 值类型标签，取值是ASCII字符
type Tag uint8

const (
	TagArray       Tag = '[' // 91 数组对象
	TagByte        Tag = 'B' // 66 1字节
	TagChar        Tag = 'C' // 67 2字节
	TagObject      Tag = 'L' // 76 对象id
	TagFloat       Tag = 'F' // 70 4字节
	TagDouble      Tag = 'D' // 68 8字节
	TagInt         Tag = 'I' // 73 4字节
	TagLong        Tag = 'J' // 74 8字节
	TagShort       Tag = 'S' // 83 2字节
	TagVoid        Tag = 'V' // 86 无内容
	TagBoolean     Tag = 'Z' // 90 1字节
	TagString      Tag = 's' // 115 字符串对象id
	TagThread      Tag = 't' // 116 线程对象id
	TagThreadGroup Tag = 'g' // 103 线程组对象id
	TagClassLoader Tag = 'l' // 108 类加载器对象id
	TagClassObject Tag = 'c' // 99 类对象id
)

// ThreadStatus 线程运行状态
type ThreadStatus int32

const (
	ThreadStatusZombie   ThreadStatus = 0
	ThreadStatusRunning  ThreadStatus = 1
	ThreadStatusSleeping ThreadStatus = 2
	ThreadStatusMonitor  ThreadStatus = 3
	ThreadStatusWait     ThreadStatus = 4
)

// ClassStatus 类的加载状态，按位组合
type ClassStatus int32

const (
	ClassStatusVerified    ClassStatus = 1
	ClassStatusPrepared    ClassStatus = 2
	ClassStatusInitialized ClassStatus = 4
	ClassStatusError       ClassStatus = 8
)

// InvokeOptions 方法调用选项
const (
	InvokeSingleThreaded uint32 = 0x01
	InvokeNonvirtual     uint32 = 0x02
)

// JDWP错误码，只列出客户端需要特殊处理的部分
const (
	ErrorNone               uint16 = 0
	ErrorInvalidThread      uint16 = 10
	ErrorThreadNotSuspended uint16 = 13
	ErrorInvalidObject      uint16 = 20
	ErrorInvalidClass       uint16 = 21
	ErrorVMDead             uint16 = 112
)
