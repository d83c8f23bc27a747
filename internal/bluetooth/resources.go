package bluetooth

import (
	"log"
	"sync"
)

const logPrefix = "[BT]"

// Resources 进程级共享无线资源（SDP 数据库、L2CAP 通道）的一次性初始化守卫。
// 每一步成功后不再执行；失败的步骤在下一次 Ensure 时重试。
type Resources struct {
	mu    sync.Mutex
	sdp   bool
	l2cap bool
}

var defaultResources = &Resources{}

// DefaultResources 返回进程级单例
func DefaultResources() *Resources {
	return defaultResources
}

// Ensure 按 SDP -> L2CAP 的顺序完成初始化，并发调用时串行执行
func (r *Resources) Ensure(stack Stack) ErrorCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sdp {
		if err := stack.InitSdp(); err != nil {
			log.Printf("%s SDP 初始化失败: %v", logPrefix, err)
			return CodeFromError(err)
		}
		r.sdp = true
		log.Printf("%s SDP 初始化完成", logPrefix)
	}

	if !r.l2cap {
		if err := stack.InitL2cap(); err != nil {
			log.Printf("%s L2CAP 初始化失败: %v", logPrefix, err)
			return CodeFromError(err)
		}
		r.l2cap = true
		log.Printf("%s L2CAP 初始化完成", logPrefix)
	}

	return Success
}

// Initialized 返回两项资源是否已就绪
func (r *Resources) Initialized() (sdp, l2cap bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sdp, r.l2cap
}
