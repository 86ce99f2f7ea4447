package debugger

import (
	"context"
	"fmt"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/fansqz/jdwp-debugger/jdwp"
	"github.com/sirupsen/logrus"
)

// 基于方法调用组合出来的高级操作。
// 调用方法要求目标线程处于挂起状态（比如刚命中断点），
// 虚拟机在该线程上执行方法后重新挂起它。

const (
	runtimeClassSignature = "Ljava/lang/Runtime;"
	processClassSignature = "Ljava/lang/Process;"
	systemClassSignature  = "Ljava/lang/System;"

	getRuntimeSignature = "()Ljava/lang/Runtime;"
	execSignature       = "(Ljava/lang/String;)Ljava/lang/Process;"
	waitForSignature    = "()I"
	loadSignature       = "(Ljava/lang/String;)V"
)

// Exec 在被调试进程内同步执行一条系统命令，返回子进程退出码。
// 等价于在进程里执行 Runtime.getRuntime().exec(command).waitFor()。
// thread为0时任取一个挂起的线程。子进程运行期间该线程一直阻塞在
// waitFor里，调试器这边只有这一个调用在等，连接保持可用。
func (s *Session) Exec(ctx context.Context, thread jdwp.ThreadID, command string) (int32, error) {
	if s.Closed() {
		return 0, e.ErrSessionClosed
	}
	var err error
	if thread == 0 {
		if thread, err = s.anySuspendedThread(); err != nil {
			return 0, err
		}
	}
	client := s.client

	// Runtime.getRuntime()
	runtimeClass, err := s.findClass(ctx, runtimeClassSignature)
	if err != nil {
		return 0, err
	}
	// 方法表取一次，getRuntime和exec都从里面找。
	// 注意exec定义在Runtime上，不能拿Process做查找类型。
	runtimeMethods, err := client.Methods(ctx, jdwp.ReferenceTypeID(runtimeClass))
	if err != nil {
		return 0, err
	}
	getRuntime, err := findMethodIn(runtimeMethods, runtimeClassSignature, "getRuntime", getRuntimeSignature)
	if err != nil {
		return 0, err
	}
	execMethod, err := findMethodIn(runtimeMethods, runtimeClassSignature, "exec", execSignature)
	if err != nil {
		return 0, err
	}
	runtime, err := s.invokeStatic(ctx, runtimeClass, thread, getRuntime.ID, nil)
	if err != nil {
		return 0, err
	}
	runtimeObject, err := expectObject(runtime)
	if err != nil {
		return 0, err
	}

	// runtime.exec(command)
	commandString, err := client.CreateString(ctx, command)
	if err != nil {
		return 0, err
	}
	process, err := s.invoke(ctx, runtimeObject, thread, runtimeClass, execMethod.ID,
		[]jdwp.TaggedValue{jdwp.NewObjectValue(constants.TagString, jdwp.ObjectID(commandString))})
	if err != nil {
		return 0, err
	}
	processObject, err := expectObject(process)
	if err != nil {
		return 0, err
	}

	// process.waitFor()
	processClass, err := s.findClass(ctx, processClassSignature)
	if err != nil {
		return 0, err
	}
	waitFor, err := s.findMethod(ctx, processClass, processClassSignature, "waitFor", waitForSignature)
	if err != nil {
		return 0, err
	}
	exitCode, err := s.invoke(ctx, processObject, thread, processClass, waitFor.ID, nil)
	if err != nil {
		return 0, err
	}
	if exitCode.Tag != constants.TagInt {
		return 0, &e.InvalidTagError{Expected: uint8(constants.TagInt), Actual: uint8(exitCode.Tag)}
	}
	logrus.Infof("[Session] exec %q on thread %d, exit code = %d", command, thread, int32(exitCode.Int()))
	return int32(exitCode.Int()), nil
}

// LoadLibrary 让被调试进程加载一个本地库，路径必须是设备上的绝对路径。
// 等价于在进程里执行 System.load(path)。
func (s *Session) LoadLibrary(ctx context.Context, thread jdwp.ThreadID, absolutePath string) error {
	if s.Closed() {
		return e.ErrSessionClosed
	}
	var err error
	if thread == 0 {
		if thread, err = s.anySuspendedThread(); err != nil {
			return err
		}
	}

	systemClass, err := s.findClass(ctx, systemClassSignature)
	if err != nil {
		return err
	}
	load, err := s.findMethod(ctx, systemClass, systemClassSignature, "load", loadSignature)
	if err != nil {
		return err
	}
	pathString, err := s.client.CreateString(ctx, absolutePath)
	if err != nil {
		return err
	}
	result, err := s.invokeStatic(ctx, systemClass, thread, load.ID,
		[]jdwp.TaggedValue{jdwp.NewObjectValue(constants.TagString, jdwp.ObjectID(pathString))})
	if err != nil {
		return err
	}
	if result.Tag != constants.TagVoid {
		return &e.InvalidTagError{Expected: uint8(constants.TagVoid), Actual: uint8(result.Tag)}
	}
	logrus.Infof("[Session] loaded library %s on thread %d", absolutePath, thread)
	return nil
}

// invokeStatic 调用静态方法并检查虚拟机侧异常
func (s *Session) invokeStatic(ctx context.Context, class jdwp.ClassID, thread jdwp.ThreadID, method jdwp.MethodID, args []jdwp.TaggedValue) (jdwp.TaggedValue, error) {
	result, err := s.client.InvokeStaticMethod(ctx, class, thread, method, args, 0)
	if err != nil {
		return jdwp.TaggedValue{}, err
	}
	if result.Exception.Object != 0 {
		return jdwp.TaggedValue{}, fmt.Errorf("invoked method threw exception, object = %d", uint64(result.Exception.Object))
	}
	return result.Result, nil
}

// invoke 调用实例方法并检查虚拟机侧异常
func (s *Session) invoke(ctx context.Context, object jdwp.ObjectID, thread jdwp.ThreadID, class jdwp.ClassID, method jdwp.MethodID, args []jdwp.TaggedValue) (jdwp.TaggedValue, error) {
	result, err := s.client.InvokeMethod(ctx, object, thread, class, method, args, 0)
	if err != nil {
		return jdwp.TaggedValue{}, err
	}
	if result.Exception.Object != 0 {
		return jdwp.TaggedValue{}, fmt.Errorf("invoked method threw exception, object = %d", uint64(result.Exception.Object))
	}
	return result.Result, nil
}

// findMethodIn 在已取回的方法表里查找
func findMethodIn(methods []jdwp.MethodInfo, classSignature string, name string, signature string) (jdwp.MethodInfo, error) {
	for _, m := range methods {
		if m.Name == name && (signature == "" || m.Signature == signature) {
			return m, nil
		}
	}
	return jdwp.MethodInfo{}, &e.MethodNotFoundError{ClassSignature: classSignature, Name: name, Signature: signature}
}

// expectObject 校验返回值是非空对象引用
func expectObject(v jdwp.TaggedValue) (jdwp.ObjectID, error) {
	if !v.IsObject() {
		return 0, &e.InvalidTagError{Expected: uint8(constants.TagObject), Actual: uint8(v.Tag)}
	}
	if v.Object == 0 {
		return 0, fmt.Errorf("invoked method returned null")
	}
	return v.Object, nil
}
