// Package learn holds the residual model: a small ensemble of feed-forward
// regressors trained online on the part of each transition the analytical
// model failed to explain.
//
// Members share architecture and training targets and differ only in their
// random initialization, so their disagreement on an input is a usable
// proxy for epistemic uncertainty: it stays small where training data was
// seen and grows away from it.
//
// By default only the output layer is trained and the hidden layers keep
// their random features. That is a precision/speed trade-off that keeps a
// training step to a few hundred multiply-adds per member; set
// Config.FullBackprop to train every layer.
package learn
